// Package main trains the autoregressive linear forecaster on a CSV column or
// on a synthetic sine series, writing logs, scalar metrics and checkpoints
// below the configured root directory.
//
//	train_series -config train.yaml -resume latest
package main
