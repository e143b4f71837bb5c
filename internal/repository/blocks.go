package repository

import (
	"context"
	"errors"
	"fmt"

	"ticket-ledger/internal/status"
	"ticket-ledger/internal/store"
	"ticket-ledger/models"
)

type BlockRepository struct {
	store store.Store
}

func blockID(index int64) string {
	return fmt.Sprintf("%010d", index)
}

// AppendBlock persists a block under its index. Writing an index that is
// already taken fails with status.ErrVersionConflict, so two writers can
// never store different blocks at the same height.
func (r *BlockRepository) AppendBlock(ctx context.Context, b models.LedgerBlock) error {
	if _, err := r.store.CompareAndSwap(ctx, CollBlocks, blockID(b.Index), 0, b); err != nil {
		return fmt.Errorf("append block %d: %w", b.Index, err)
	}
	return nil
}

// LoadBlocks reads blocks from index 0 upward until the first gap.
func (r *BlockRepository) LoadBlocks(ctx context.Context) ([]models.LedgerBlock, error) {
	var blocks []models.LedgerBlock
	for i := int64(0); ; i++ {
		doc, err := r.store.Get(ctx, CollBlocks, blockID(i))
		if errors.Is(err, status.ErrNotFound) {
			return blocks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("load block %d: %w", i, err)
		}

		var b models.LedgerBlock
		if err := doc.Decode(&b); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
}
