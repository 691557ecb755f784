// Package trainer provides the Learner, an epoch loop for gradient-trained
// forecasting models. It steps the optimizer with clipped gradients, keeps an
// optional moving average of the weights for validation, logs progress to a
// text file and a scalar event stream, writes checkpoints and stops early when
// the validation loss stops improving.
package trainer
