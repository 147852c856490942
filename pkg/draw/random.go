package draw

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// RandomSource yields uniform integers in [0, n).
type RandomSource interface {
	Int63n(n int64) (int64, error)
}

// CryptoSource draws from crypto/rand so individual outcomes cannot be
// predicted from earlier ones.
type CryptoSource struct{}

// Int63n implements RandomSource.
func (CryptoSource) Int63n(n int64) (int64, error) {
	if n <= 0 {
		return 0, fmt.Errorf("draw: invalid bound %d", n)
	}
	value, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return value.Int64(), nil
}

// SourceFunc adapts a function to RandomSource.
type SourceFunc func(n int64) (int64, error)

// Int63n implements RandomSource.
func (fn SourceFunc) Int63n(n int64) (int64, error) {
	return fn(n)
}
