package docstore

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/duynguyendang/fiscalxml/pkg/fiscal"
)

// Stats summarizes the stored documents.
type Stats struct {
	Documents int                         `json:"documents"`
	ByType    map[fiscal.DocumentType]int `json:"byType"`
	ByStatus  map[fiscal.Status]int       `json:"byStatus"`
	// TotalValue sums the totals of non-cancelled, non-event documents.
	TotalValue decimal.Decimal `json:"totalValue"`
	Items      int             `json:"items"`
	// Unresolved counts events whose referenced document is not stored.
	Unresolved int `json:"unresolved"`
}

// Stats computes statistics over the effective view of every document.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByType:   make(map[fiscal.DocumentType]int),
		ByStatus: make(map[fiscal.Status]int),
	}
	for doc, err := range s.Query(ctx, Filter{}) {
		if err != nil {
			return Stats{}, err
		}
		st.Documents++
		st.ByType[doc.Type]++
		st.ByStatus[doc.Status]++
		st.Items += len(doc.Items)
		if doc.Type.IsEvent() {
			if !doc.ReferenceResolved {
				st.Unresolved++
			}
			continue
		}
		if doc.TotalValue.Valid && doc.Status != fiscal.StatusCancelled {
			st.TotalValue = st.TotalValue.Add(doc.TotalValue.Decimal)
		}
	}
	return st, nil
}
