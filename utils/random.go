package utils

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"strings"
	"time"
)

// GenerateCode returns n random bytes as upper-case hex, used for payment
// references.
func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}

// RandomIntn returns a uniform integer in [0, n) from the system CSPRNG.
func RandomIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

// Now is the canonical clock for persisted timestamps: UTC, millisecond
// precision, so values survive JSON and hash identically after reload.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
