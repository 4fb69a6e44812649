/*
reconcile.go - Detect and repair partial settlements

PURPOSE:
  A succeeded event for an order whose recipe no longer resolves leaves
  the order paid with no ledger entry. The Reconciler finds those orders
  and, once the recipe resolves again, appends the missing entry using the
  same fee split the handler would have used.

IDEMPOTENCY:
  Repair on an order that already has its entry returns that entry and
  writes nothing. Repair runs under the same per-intent lock as Handle.
*/
package settlement

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

type Reconciler struct {
	h *EventHandler
}

func NewReconciler(h *EventHandler) *Reconciler {
	return &Reconciler{h: h}
}

// Scan returns every paid order that has no ledger entry.
func (r *Reconciler) Scan(ctx context.Context) ([]Order, error) {
	paid, err := r.h.store.ListOrders(ctx, OrderFilter{Status: StatusPaid})
	if err != nil {
		return nil, fmt.Errorf("list paid orders: %w", err)
	}
	var partial []Order
	for _, o := range paid {
		_, err := r.h.store.EntryForOrder(ctx, o.ID)
		if errors.Is(err, ErrLedgerEntryNotFound) {
			partial = append(partial, o)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load entry for %s: %w", o.ID, err)
		}
	}
	return partial, nil
}

// Repair appends the missing ledger entry for a paid order.
// Returns *PartialSettlementError while the recipe is still missing and
// *StatusConflictError if the order is not paid.
func (r *Reconciler) Repair(ctx context.Context, id OrderID) (LedgerEntry, error) {
	order, err := r.h.store.GetOrder(ctx, id)
	if err != nil {
		return LedgerEntry{}, err
	}

	unlock := r.h.locks.Lock(string(order.PaymentIntentID))
	defer unlock()

	// Re-read under the lock; the handler may have moved it.
	order, err = r.h.store.GetOrder(ctx, id)
	if err != nil {
		return LedgerEntry{}, err
	}
	if order.Status != StatusPaid {
		return LedgerEntry{}, &StatusConflictError{OrderID: id, Expected: StatusPaid, Actual: order.Status}
	}

	existing, err := r.h.store.EntryForOrder(ctx, id)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrLedgerEntryNotFound) {
		return LedgerEntry{}, fmt.Errorf("load entry for %s: %w", id, err)
	}

	recipe, err := r.h.catalog.GetRecipe(ctx, order.RecipeID)
	if errors.Is(err, ErrRecipeNotFound) {
		return LedgerEntry{}, &PartialSettlementError{OrderID: id, RecipeID: order.RecipeID}
	}
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("resolve recipe %s: %w", order.RecipeID, err)
	}

	entry, err := r.h.newEntry(order, recipe.AuthorID)
	if err != nil {
		return LedgerEntry{}, err
	}
	if err := r.h.store.AppendEntry(ctx, entry); err != nil {
		return LedgerEntry{}, fmt.Errorf("append entry for %s: %w", id, err)
	}
	r.h.logger.Info("partial settlement repaired",
		zap.String("order_id", string(id)),
		zap.String("author_id", string(entry.AuthorID)),
		zap.Int64("gross_cents", entry.GrossCents))
	return entry, nil
}
