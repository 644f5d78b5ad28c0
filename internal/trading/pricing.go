package trading

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tradepost/internal/readmodel"
)

// CatalogReader is the snapshot lookup the pricer needs.
type CatalogReader interface {
	Get(ctx context.Context, id uuid.UUID) (readmodel.CatalogItemSnapshot, error)
}

// SnapshotPricer prices purchases from the local catalog read model. The
// sync component keeps the snapshots fresh; the pricer only reads.
type SnapshotPricer struct {
	catalog CatalogReader
}

// NewSnapshotPricer constructs a SnapshotPricer.
func NewSnapshotPricer(catalog CatalogReader) *SnapshotPricer {
	return &SnapshotPricer{catalog: catalog}
}

// Price returns the unit price of the item, or readmodel.ErrNotFound for
// an item the read model has never seen.
func (p *SnapshotPricer) Price(ctx context.Context, itemID uuid.UUID) (float64, error) {
	item, err := p.catalog.Get(ctx, itemID)
	if err != nil {
		return 0, fmt.Errorf("price item %s: %w", itemID, err)
	}
	return item.Price, nil
}
