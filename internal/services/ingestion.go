package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/storage"
)

// Ingestor persists scanned receipts coming off the OCR pipeline. Every
// raw name passes through item resolution so a line item inherits whatever
// category its canonical item already carries.
type Ingestor struct {
	store    storage.Store
	resolver *Resolver
}

// ScannedReceipt is the ingestion input: one receipt worth of raw tuples.
type ScannedReceipt struct {
	UserID      string
	Merchant    string
	PurchasedOn time.Time
	Currency    string
	TotalCents  int64
	Items       []core.ScannedItem
}

func NewIngestor(store storage.Store, resolver *Resolver) *Ingestor {
	return &Ingestor{store: store, resolver: resolver}
}

// IngestReceipt creates the receipt and its line items in one transaction.
func (in *Ingestor) IngestReceipt(ctx context.Context, scan ScannedReceipt) (int64, error) {
	if scan.UserID == "" {
		return 0, core.ErrEmptyUserID
	}
	for i, item := range scan.Items {
		if err := item.Validate(); err != nil {
			return 0, fmt.Errorf("scanned item %d: %w", i, err)
		}
	}

	var receiptID int64
	err := in.store.InTx(ctx, func(st storage.Store) error {
		receipt := core.Receipt{
			UserID:      scan.UserID,
			Merchant:    scan.Merchant,
			PurchasedOn: scan.PurchasedOn,
			Currency:    scan.Currency,
			Total:       core.Money{Cents: scan.TotalCents},
			Status:      core.StatusPending,
		}

		id, err := st.CreateReceipt(ctx, &receipt)
		if err != nil {
			return err
		}
		receiptID = id

		for i, raw := range scan.Items {
			res, err := in.resolver.resolveWith(ctx, st, scan.UserID, raw.Name)
			if err != nil {
				return fmt.Errorf("resolve %q: %w", raw.Name, err)
			}
			canonicalID := res.CanonicalID
			item := core.LineItem{
				ReceiptID:       id,
				CanonicalItemID: &canonicalID,
				Name:            core.NormalizeName(raw.Name),
				Quantity:        raw.Quantity,
				UnitPrice:       core.Money{Cents: raw.UnitPriceCents},
				TotalPrice:      core.Money{Cents: raw.TotalPriceCents},
				Position:        i,
			}
			if _, err := st.InsertLineItem(ctx, &item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Receipt ingested",
		"receipt_id", receiptID,
		"user_id", scan.UserID,
		"merchant", scan.Merchant,
		"items", len(scan.Items))
	return receiptID, nil
}
