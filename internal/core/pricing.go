package core

import (
	"fmt"
	"math"
)

// ComputeCost returns pageCount * copyCount * perPageRate.
func ComputeCost(pageCount, copyCount int, perPageRate float64) (float64, error) {
	if pageCount < 1 {
		return 0, fmt.Errorf("%w: page count must be at least 1, got %d", ErrInvalidArgument, pageCount)
	}
	if copyCount < 1 {
		return 0, fmt.Errorf("%w: copy count must be at least 1, got %d", ErrInvalidArgument, copyCount)
	}
	if perPageRate < 0 || math.IsNaN(perPageRate) || math.IsInf(perPageRate, 0) {
		return 0, fmt.Errorf("%w: per page rate must be a non-negative number, got %v", ErrInvalidArgument, perPageRate)
	}
	return float64(pageCount) * float64(copyCount) * perPageRate, nil
}
