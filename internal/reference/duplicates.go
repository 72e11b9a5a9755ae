package reference

import (
	"context"
	"fmt"
	"sort"

	"github.com/xelth-com/stocksyncgo/internal/catalog"
)

// Duplicate namespaces
const (
	NamespaceProduct = "product"
	NamespaceVariant = "variant"
	NamespaceCross   = "cross"
)

// DuplicateGroup is a set of catalog items sharing one reference
type DuplicateGroup struct {
	Reference string         `json:"reference"`
	Namespace string         `json:"namespace"`
	Items     []catalog.Item `json:"items"`
}

// DuplicateReport is the output of CheckDuplicates
type DuplicateReport struct {
	Products   []DuplicateGroup `json:"products"`
	Variants   []DuplicateGroup `json:"variants"`
	Cross      []DuplicateGroup `json:"cross"`
	TotalCount int              `json:"total_count"`
}

// HasDuplicates reports whether any group was found
func (d *DuplicateReport) HasDuplicates() bool {
	return d.TotalCount > 0
}

// CheckDuplicates groups catalog items that share a reference. It only
// reports; resolution always takes the first match.
func (r *Resolver) CheckDuplicates(ctx context.Context) (*DuplicateReport, error) {
	groups := make(map[string][]catalog.Item)
	err := r.index.EachReferenced(ctx, scanBatchSize, func(items []catalog.Item) error {
		for _, it := range items {
			ref := Normalize(it.Reference)
			if ref != "" {
				groups[ref] = append(groups[ref], it)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan references: %w", err)
	}

	refs := make([]string, 0, len(groups))
	for ref, items := range groups {
		if len(items) > 1 {
			refs = append(refs, ref)
		}
	}
	sort.Strings(refs)

	report := &DuplicateReport{Products: []DuplicateGroup{}, Variants: []DuplicateGroup{}, Cross: []DuplicateGroup{}}
	for _, ref := range refs {
		items := groups[ref]
		var products, variants int
		for _, it := range items {
			if it.Kind == catalog.KindVariant {
				variants++
			} else {
				products++
			}
		}

		g := DuplicateGroup{Reference: ref, Items: items}
		switch {
		case variants == 0:
			g.Namespace = NamespaceProduct
			report.Products = append(report.Products, g)
		case products == 0:
			g.Namespace = NamespaceVariant
			report.Variants = append(report.Variants, g)
		default:
			g.Namespace = NamespaceCross
			report.Cross = append(report.Cross, g)
		}
		report.TotalCount++
	}
	return report, nil
}
