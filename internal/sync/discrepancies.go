package sync

import (
	"context"
	"fmt"

	"github.com/xelth-com/stocksyncgo/internal/transport"
	"golang.org/x/sync/errgroup"
)

// auditConcurrency bounds parallel peer reads per reference
const auditConcurrency = 4

// StoreQuantity is one store's view of a reference
type StoreQuantity struct {
	StoreName string  `json:"store_name"`
	Quantity  float64 `json:"quantity"`
	Available bool    `json:"available"`
	Error     string  `json:"error,omitempty"`
}

// Discrepancy is a reference whose quantity differs between stores
type Discrepancy struct {
	Reference  string                 `json:"reference"`
	ProductID  int64                  `json:"id_product"`
	VariantID  int64                  `json:"id_product_attribute"`
	Quantities map[uint]StoreQuantity `json:"quantities"`
}

// CheckDiscrepancies compares the local quantity of every referenced item
// with each active peer's. Read-only: nothing is corrected. Peers that cannot
// answer are reported unavailable and do not count as disagreement.
func (e *Engine) CheckDiscrepancies(ctx context.Context) ([]Discrepancy, error) {
	self := e.self(ctx)
	active, err := e.registry.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	var peers []transport.Peer
	for i := range active {
		if !e.isSelf(self, &active[i]) {
			peers = append(peers, transport.PeerFromStore(&active[i]))
		}
	}

	out := []Discrepancy{}
	if len(peers) == 0 {
		return out, nil
	}

	items, err := e.resolver.AllReferences(ctx)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		quantities := make(map[uint]StoreQuantity, len(peers)+1)
		local := StoreQuantity{StoreName: self.Name}
		if qty, err := e.catalog.GetQuantity(ctx, item.ProductID, item.VariantID); err == nil {
			local.Quantity, local.Available = qty, true
		} else {
			local.Error = err.Error()
		}
		quantities[self.ID] = local

		remote := make([]StoreQuantity, len(peers))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(auditConcurrency)
		for i, peer := range peers {
			i, peer := i, peer
			g.Go(func() error {
				remote[i] = StoreQuantity{StoreName: peer.Name}
				stock, err := e.transport.FetchRemoteQuantity(gctx, peer, item.Reference)
				if err != nil {
					remote[i].Error = err.Error()
					return nil
				}
				remote[i].Quantity, remote[i].Available = stock.Quantity, true
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, fmt.Errorf("audit of %s failed: %w", item.Reference, err)
		}
		for i, peer := range peers {
			quantities[peer.ID] = remote[i]
		}

		if disagree(quantities) {
			out = append(out, Discrepancy{
				Reference:  item.Reference,
				ProductID:  item.ProductID,
				VariantID:  item.VariantID,
				Quantities: quantities,
			})
		}
	}

	if len(out) > 0 {
		e.publish("discrepancies", map[string]interface{}{"count": len(out)})
	}
	return out, nil
}

func disagree(quantities map[uint]StoreQuantity) bool {
	var first *float64
	for _, q := range quantities {
		if !q.Available {
			continue
		}
		if first == nil {
			v := q.Quantity
			first = &v
			continue
		}
		if q.Quantity != *first {
			return true
		}
	}
	return false
}
