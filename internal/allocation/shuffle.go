package allocation

import (
	"fmt"

	"ticket-ledger/utils"
)

// Shuffler produces the processing order of a draw.
type Shuffler interface {
	Permutation(n int) ([]int, error)
}

// CryptoShuffler is an unbiased Fisher-Yates shuffle over the system CSPRNG.
type CryptoShuffler struct{}

func (CryptoShuffler) Permutation(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := utils.RandomIntn(i + 1)
		if err != nil {
			return nil, fmt.Errorf("shuffle: %w", err)
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm, nil
}
