package core

import (
	"errors"
	"math"
	"testing"
)

func TestComputeCost(t *testing.T) {
	tests := []struct {
		name   string
		pages  int
		copies int
		rate   float64
		want   float64
	}{
		{name: "single page", pages: 1, copies: 1, rate: 1, want: 1},
		{name: "three pages two copies", pages: 3, copies: 2, rate: 5, want: 30},
		{name: "free printing", pages: 12, copies: 4, rate: 0, want: 0},
		{name: "fractional rate", pages: 10, copies: 3, rate: 0.5, want: 15},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeCost(tc.pages, tc.copies, tc.rate)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ComputeCost(%d, %d, %v) = %v, want %v", tc.pages, tc.copies, tc.rate, got, tc.want)
			}
		})
	}
}

func TestComputeCostMatchesProduct(t *testing.T) {
	for pages := 1; pages <= 20; pages++ {
		for copies := 1; copies <= 5; copies++ {
			for _, rate := range []float64{0, 1, 2, 7} {
				got, err := ComputeCost(pages, copies, rate)
				if err != nil {
					t.Fatalf("unexpected error for %d/%d/%v: %v", pages, copies, rate, err)
				}
				if want := float64(pages*copies) * rate; got != want {
					t.Fatalf("ComputeCost(%d, %d, %v) = %v, want %v", pages, copies, rate, got, want)
				}
			}
		}
	}
}

func TestComputeCostRejectsInvalidArguments(t *testing.T) {
	tests := []struct {
		name   string
		pages  int
		copies int
		rate   float64
	}{
		{name: "zero pages", pages: 0, copies: 1, rate: 1},
		{name: "negative pages", pages: -2, copies: 1, rate: 1},
		{name: "zero copies", pages: 1, copies: 0, rate: 1},
		{name: "negative rate", pages: 1, copies: 1, rate: -0.01},
		{name: "nan rate", pages: 1, copies: 1, rate: math.NaN()},
		{name: "infinite rate", pages: 1, copies: 1, rate: math.Inf(1)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ComputeCost(tc.pages, tc.copies, tc.rate)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
		})
	}
}
