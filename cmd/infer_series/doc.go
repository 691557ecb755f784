// Package main loads a checkpoint written by train_series and prints the
// forecast that follows the last lookback window of the configured series.
package main
