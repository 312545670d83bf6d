package amqp

import (
	"encoding/json"
	"time"
)

// ScannedItem mirrors one raw tuple extracted by the OCR pipeline.
type ScannedItem struct {
	Name            string  `json:"name"`
	Quantity        float64 `json:"quantity"`
	UnitPriceCents  int64   `json:"unit_price_cents"`
	TotalPriceCents int64   `json:"total_price_cents"`
}

// ReceiptScannedMessage carries one scanned receipt from the OCR pipeline
// to the ingestion worker.
type ReceiptScannedMessage struct {
	UserID      string        `json:"user_id"`
	Merchant    string        `json:"merchant"`
	PurchasedOn string        `json:"purchased_on"` // 2006-01-02
	Currency    string        `json:"currency"`
	TotalCents  int64         `json:"total_cents"`
	Items       []ScannedItem `json:"items"`
	Timestamp   time.Time     `json:"timestamp"`
}

// NewReceiptScannedMessage stamps a scanned receipt for publishing.
func NewReceiptScannedMessage(userID, merchant, purchasedOn, currency string, totalCents int64, items []ScannedItem) *ReceiptScannedMessage {
	return &ReceiptScannedMessage{
		UserID:      userID,
		Merchant:    merchant,
		PurchasedOn: purchasedOn,
		Currency:    currency,
		TotalCents:  totalCents,
		Items:       items,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ReceiptScannedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ReceiptScannedMessageFromJSON creates a message from JSON bytes
func ReceiptScannedMessageFromJSON(data []byte) (*ReceiptScannedMessage, error) {
	var msg ReceiptScannedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
