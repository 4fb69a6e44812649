/*
report.go - Author earnings projection

PURPOSE:
  Read-only P&L style summary for one author, derived from orders (not from
  the ledger) so the two can be checked against each other.

CALCULATION:
  For every paid order of one of the author's recipes, split the order's
  amount with the fee calculator and sum gross, fee and net. Rounding per
  order is the same rounding the handler applies per ledger entry, so when
  no partial settlement exists:

    Report(author) == SummarizeLedger(ledger entries of author)

  An author with no paid orders gets all-zero totals.
*/
package settlement

import (
	"context"
	"fmt"
	"sort"
)

// AuthorReport totals an author's settled sales.
type AuthorReport struct {
	AuthorID         AuthorID
	OrderCount       int
	GrossCents       int64
	PlatformFeeCents int64
	NetCents         int64
	RecipeIDs        []RecipeID
}

type Reporter struct {
	orders  OrderStore
	catalog Catalog
	fees    FeeCalculator
}

func NewReporter(orders OrderStore, catalog Catalog, fees FeeCalculator) *Reporter {
	return &Reporter{orders: orders, catalog: catalog, fees: fees}
}

// Report builds the author's summary. It never mutates state.
func (r *Reporter) Report(ctx context.Context, authorID AuthorID) (AuthorReport, error) {
	report := AuthorReport{AuthorID: authorID, RecipeIDs: []RecipeID{}}

	recipes, err := r.catalog.RecipesByAuthor(ctx, authorID)
	if err != nil {
		return AuthorReport{}, fmt.Errorf("list recipes for %s: %w", authorID, err)
	}
	if len(recipes) == 0 {
		return report, nil
	}
	for _, rec := range recipes {
		report.RecipeIDs = append(report.RecipeIDs, rec.ID)
	}
	sort.Slice(report.RecipeIDs, func(i, j int) bool { return report.RecipeIDs[i] < report.RecipeIDs[j] })

	paid, err := r.orders.ListOrders(ctx, OrderFilter{Status: StatusPaid, RecipeIDs: report.RecipeIDs})
	if err != nil {
		return AuthorReport{}, fmt.Errorf("list paid orders for %s: %w", authorID, err)
	}
	for _, o := range paid {
		split, err := r.fees.Split(o.AmountCents)
		if err != nil {
			return AuthorReport{}, fmt.Errorf("split order %s: %w", o.ID, err)
		}
		report.OrderCount++
		report.GrossCents += split.GrossCents
		report.PlatformFeeCents += split.FeeCents
		report.NetCents += split.NetCents
	}
	return report, nil
}

// SummarizeLedger totals ledger entries into the report shape. RecipeIDs is
// left empty since entries do not carry recipes.
func SummarizeLedger(authorID AuthorID, entries []LedgerEntry) AuthorReport {
	report := AuthorReport{AuthorID: authorID, RecipeIDs: []RecipeID{}}
	for _, e := range entries {
		if authorID != "" && e.AuthorID != authorID {
			continue
		}
		report.OrderCount++
		report.GrossCents += e.GrossCents
		report.PlatformFeeCents += e.PlatformFeeCents
		report.NetCents += e.NetCents
	}
	return report
}
