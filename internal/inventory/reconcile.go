package inventory

import (
	"github.com/jask/shelfwatch/internal/catalog"
	"github.com/jask/shelfwatch/internal/vision"
)

// StockItem is one entry of a snapshot or a purchase order.
type StockItem struct {
	ID       string
	Name     string
	Quantity int
	Unit     string
}

// Snapshot is one cycle's complete inventory count: exactly one entry
// per catalog item, in catalog order, zero-filled for anything the
// vision call did not report. Treated as immutable once built.
type Snapshot []StockItem

// Reconcile merges raw counted items with the catalog. Counted items
// with unknown ids are dropped (the analysis client filters them too,
// but the invariant holds here regardless of the caller). Output order
// is catalog order, independent of input order.
func Reconcile(counted []vision.CountedItem, cat *catalog.Catalog) Snapshot {
	byID := make(map[string]int, len(counted))
	for _, c := range counted {
		if !cat.Has(c.ID) {
			continue
		}
		q := c.Quantity
		if q < 0 {
			q = 0
		}
		byID[c.ID] = q
	}
	items := cat.Items()
	snap := make(Snapshot, 0, len(items))
	for _, it := range items {
		snap = append(snap, StockItem{ID: it.ID, Name: it.Name, Quantity: byID[it.ID], Unit: it.Unit})
	}
	return snap
}
