package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/storage"
)

// Reconciler applies a caller-supplied item list to a receipt: persisted
// items missing from the proposal are deleted, entries carrying an id are
// updated in place, entries without an id are inserted. Every new or
// renamed item re-enters item resolution. The whole diff commits as one
// transaction; concurrent edits are detected through the receipt's version
// and retried with jittered exponential backoff.
type Reconciler struct {
	store       storage.Store
	resolver    *Resolver
	maxAttempts int
	backoffBase time.Duration
}

// errStaleReceipt signals a lost optimistic-version race within one attempt.
var errStaleReceipt = errors.New("stale receipt version")

func NewReconciler(store storage.Store, resolver *Resolver, maxAttempts int) *Reconciler {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &Reconciler{
		store:       store,
		resolver:    resolver,
		maxAttempts: maxAttempts,
		backoffBase: 50 * time.Millisecond,
	}
}

// ReconcileItems brings the receipt's persisted item set in line with the
// proposal and returns the items as persisted afterwards. A proposal with
// Provided false leaves the items untouched; Provided true with an empty
// list removes them all.
func (r *Reconciler) ReconcileItems(ctx context.Context, receiptID int64, proposal core.ItemsProposal) ([]core.LineItem, error) {
	receipt, err := r.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	if !proposal.Provided {
		return receipt.Items, nil
	}

	for _, p := range proposal.Items {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrBadItemList, err)
		}
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := r.apply(ctx, receipt, proposal.Items)
		if err == nil {
			break
		}
		if !errors.Is(err, errStaleReceipt) {
			return nil, err
		}
		if attempt >= r.maxAttempts {
			slog.WarnContext(ctx, "Reconciliation retries exhausted",
				"receipt_id", receiptID,
				"attempts", attempt)
			return nil, fmt.Errorf("receipt %d after %d attempts: %w", receiptID, attempt, core.ErrConflict)
		}

		if err := sleepWithJitter(ctx, r.backoffBase, attempt); err != nil {
			return nil, err
		}

		// Lost the version race; re-read and re-diff against fresh state.
		receipt, err = r.store.GetReceipt(ctx, receiptID)
		if err != nil {
			return nil, err
		}
	}

	updated, err := r.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	return updated.Items, nil
}

// apply runs one reconciliation attempt against the snapshot in receipt.
func (r *Reconciler) apply(ctx context.Context, receipt *core.Receipt, proposed []core.ProposedItem) error {
	persisted := make(map[int64]core.LineItem, len(receipt.Items))
	for _, item := range receipt.Items {
		persisted[item.ID] = item
	}

	keep := make(map[int64]bool, len(proposed))
	for _, p := range proposed {
		if p.ID == 0 {
			continue
		}
		if _, ok := persisted[p.ID]; !ok {
			return fmt.Errorf("%w: item %d does not belong to receipt %d", core.ErrBadItemList, p.ID, receipt.ID)
		}
		if keep[p.ID] {
			return fmt.Errorf("%w: item %d listed twice", core.ErrBadItemList, p.ID)
		}
		keep[p.ID] = true
	}

	// Once the write transaction starts, atomicity of the commit takes
	// priority over cancellation latency.
	txCtx := context.WithoutCancel(ctx)

	return r.store.InTx(txCtx, func(st storage.Store) error {
		ok, err := st.BumpReceiptVersion(txCtx, receipt.ID, receipt.Version)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleReceipt
		}

		for id := range persisted {
			if keep[id] {
				continue
			}
			if err := st.DeleteLineItem(txCtx, id); err != nil {
				return err
			}
		}

		for i, p := range proposed {
			if p.ID != 0 {
				if err := r.updateItem(txCtx, st, receipt, persisted[p.ID], p, i); err != nil {
					return err
				}
				continue
			}

			res, err := r.resolver.resolveWith(txCtx, st, receipt.UserID, p.Name)
			if err != nil {
				return err
			}
			canonicalID := res.CanonicalID
			item := core.LineItem{
				ReceiptID:       receipt.ID,
				CanonicalItemID: &canonicalID,
				Name:            core.NormalizeName(p.Name),
				Quantity:        p.Quantity,
				UnitPrice:       core.Money{Cents: p.UnitPriceCents},
				TotalPrice:      core.Money{Cents: p.TotalPriceCents},
				Position:        i,
			}
			if _, err := st.InsertLineItem(txCtx, &item); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Reconciler) updateItem(ctx context.Context, st storage.Store, receipt *core.Receipt, old core.LineItem, p core.ProposedItem, position int) error {
	name := core.NormalizeName(p.Name)
	canonicalID := old.CanonicalItemID

	// A renamed item is a different logical item and re-enters resolution;
	// so does an item that somehow lost its registry link.
	if !strings.EqualFold(name, old.Name) || canonicalID == nil {
		res, err := r.resolver.resolveWith(ctx, st, receipt.UserID, name)
		if err != nil {
			return err
		}
		id := res.CanonicalID
		canonicalID = &id
	}

	item := core.LineItem{
		ID:              old.ID,
		ReceiptID:       receipt.ID,
		CanonicalItemID: canonicalID,
		Name:            name,
		Quantity:        p.Quantity,
		UnitPrice:       core.Money{Cents: p.UnitPriceCents},
		TotalPrice:      core.Money{Cents: p.TotalPriceCents},
		Position:        position,
	}
	return st.UpdateLineItem(ctx, &item)
}

func sleepWithJitter(ctx context.Context, base time.Duration, attempt int) error {
	delay := base << uint(attempt-1)
	delay += time.Duration(rand.Int63n(int64(delay)))
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
