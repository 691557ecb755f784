package datasets

import "github.com/neurlang/deepseries/datasets/sine"

// Source returns the series in column of the CSV file at path, or, when path
// is empty, a synthetic sine series of the given length.
func Source(path, column string, synthetic int, period, noise float64, seed int64) ([]float64, error) {
	if path != "" {
		return ReadCSVFile(path, column)
	}
	if synthetic <= 0 {
		return nil, ErrTooShort
	}
	return sine.Generate(synthetic, period, noise, seed), nil
}
