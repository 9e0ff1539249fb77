package core

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	MinCodeDigits = 4
	MaxCodeDigits = 18
)

// NumericCodeGenerator draws uniformly from the fixed-width decimal range
// [10^(digits-1), 10^digits - 1], so codes never carry a leading zero.
type NumericCodeGenerator struct {
	min  *big.Int
	span *big.Int
}

func NewNumericCodeGenerator(digits int) (*NumericCodeGenerator, error) {
	if digits < MinCodeDigits || digits > MaxCodeDigits {
		return nil, fmt.Errorf("%w: code digits must be between %d and %d, got %d",
			ErrInvalidArgument, MinCodeDigits, MaxCodeDigits, digits)
	}

	ten := big.NewInt(10)
	min := new(big.Int).Exp(ten, big.NewInt(int64(digits-1)), nil)
	max := new(big.Int).Exp(ten, big.NewInt(int64(digits)), nil)

	return &NumericCodeGenerator{
		min:  min,
		span: new(big.Int).Sub(max, min),
	}, nil
}

func (g *NumericCodeGenerator) Next() (string, error) {
	n, err := rand.Int(rand.Reader, g.span)
	if err != nil {
		return "", fmt.Errorf("failed to draw redemption code: %w", err)
	}
	return n.Add(n, g.min).String(), nil
}
