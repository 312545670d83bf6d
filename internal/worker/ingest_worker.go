package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scontrino/internal/amqp"
	"scontrino/internal/core"
	"scontrino/internal/log"
	"scontrino/internal/services"
)

// IngestWorker bridges the scanned-receipt queue and the ingestion service.
type IngestWorker struct {
	ingestor *services.Ingestor
	logger   *log.Logger
}

func NewIngestWorker(ingestor *services.Ingestor, logger *log.Logger) *IngestWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &IngestWorker{
		ingestor: ingestor,
		logger:   logger.WithComponent(log.ComponentWorker),
	}
}

// HandleReceiptScanned processes one scanned-receipt message.
func (w *IngestWorker) HandleReceiptScanned(ctx context.Context, msg *amqp.ReceiptScannedMessage) error {
	w.logger.InfoContext(ctx, "Processing scanned receipt",
		log.FieldOperation, log.OpIngest,
		log.FieldUserID, msg.UserID,
		"merchant", msg.Merchant,
		log.FieldCount, len(msg.Items))

	scan := services.ScannedReceipt{
		UserID:     msg.UserID,
		Merchant:   msg.Merchant,
		Currency:   msg.Currency,
		TotalCents: msg.TotalCents,
	}
	if msg.PurchasedOn != "" {
		purchased, err := time.Parse("2006-01-02", msg.PurchasedOn)
		if err != nil {
			return fmt.Errorf("parse purchase date %q: %w", msg.PurchasedOn, err)
		}
		scan.PurchasedOn = purchased
	}
	for _, item := range msg.Items {
		scan.Items = append(scan.Items, core.ScannedItem{
			Name:            item.Name,
			Quantity:        item.Quantity,
			UnitPriceCents:  item.UnitPriceCents,
			TotalPriceCents: item.TotalPriceCents,
		})
	}

	receiptID, err := w.ingestor.IngestReceipt(ctx, scan)
	if err != nil {
		err = core.Internal(fmt.Errorf("ingest receipt: %w", err))
		var internal *core.InternalError
		if errors.As(err, &internal) {
			w.logger.ErrorContext(ctx, "Unexpected ingestion failure",
				log.FieldCorrelationID, internal.CorrelationID,
				log.FieldUserID, msg.UserID,
				log.FieldError, internal.Err)
		}
		return err
	}

	w.logger.InfoContext(ctx, "Scanned receipt stored",
		log.FieldReceiptID, receiptID,
		log.FieldUserID, msg.UserID)
	return nil
}
