package geometry

import (
	"errors"
	"math"
)

var (
	ErrRowTooShort = errors.New("view zenith row needs at least 2 samples")
	ErrFlatRow     = errors.New("view zenith row has no step at the edge")
)

// FindNadirColumn returns the column of a scan row whose view zenith angle is
// closest to nadir.
//
// The row is scanned from the left while the angle keeps decreasing strictly,
// so it must hold a single minimum. When that minimum sits on the first or the
// last sample, nadir lies outside the swath and is extrapolated with the step
// size between the two edge samples. The result may therefore be negative or
// larger than len(row)-1.
func FindNadirColumn(row []float64) (int, error) {
	if len(row) < 2 {
		return 0, ErrRowTooShort
	}

	minValue := row[0]
	nadir := 0
	for i := 1; i < len(row); i++ {
		if row[i] >= minValue {
			break
		}
		minValue = row[i]
		nadir = i
	}

	last := len(row) - 1
	switch nadir {
	case 0:
		// left side of the swath
		step := math.Abs(row[0] - row[1])
		if step == 0 {
			return 0, ErrFlatRow
		}
		nadir -= int(math.Ceil(minValue / step))
	case last:
		// right side of the swath
		step := math.Abs(row[last] - row[last-1])
		if step == 0 {
			return 0, ErrFlatRow
		}
		nadir += int(math.Floor(minValue / step))
	}

	return nadir, nil
}
