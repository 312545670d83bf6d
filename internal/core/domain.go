package core

import (
	"strings"
	"time"
)

const (
	StatusPending   ReceiptStatus = "pending"
	StatusConfirmed ReceiptStatus = "confirmed"

	// MaxItemNameLength bounds raw line-item names captured from OCR.
	MaxItemNameLength = 200
)

type (
	ReceiptStatus string

	Money struct {
		Cents int64
	}

	// Category is a user-scoped spending label.
	Category struct {
		ID        int64
		UserID    string
		Name      string
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	// CanonicalItem is the deduplicated registry identity for a logical
	// purchasable item. Name is unique per user under case-insensitive
	// comparison. CategoryID is nil until the item has been categorized.
	CanonicalItem struct {
		ID         int64
		UserID     string
		Name       string
		CategoryID *int64
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// Receipt owns its line items; deleting a receipt deletes them.
	Receipt struct {
		ID          int64
		UserID      string
		Merchant    string
		PurchasedOn time.Time
		Total       Money
		Currency    string
		Status      ReceiptStatus
		Version     int64
		Items       []LineItem
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	// LineItem is one entry on one receipt. Name/quantity/prices are a
	// snapshot of what the receipt said at capture time. CanonicalItemID
	// references the registry; the item's effective category is always
	// read through that reference, never stored here.
	LineItem struct {
		ID              int64
		ReceiptID       int64
		CanonicalItemID *int64
		Name            string
		Quantity        float64
		UnitPrice       Money
		TotalPrice      Money
		Position        int
	}

	// ScannedItem is a raw (name, qty, price) tuple from the OCR pipeline.
	ScannedItem struct {
		Name            string
		Quantity        float64
		UnitPriceCents  int64
		TotalPriceCents int64
	}

	// ProposedItem is one entry of a caller-supplied item list during
	// reconciliation. ID zero means a new item.
	ProposedItem struct {
		ID              int64
		Name            string
		Quantity        float64
		UnitPriceCents  int64
		TotalPriceCents int64
	}

	// ItemsProposal distinguishes "items field omitted" (Provided false,
	// leave persisted items untouched) from "explicitly empty list"
	// (Provided true with no items, remove everything).
	ItemsProposal struct {
		Provided bool
		Items    []ProposedItem
	}

	// Resolution is the outcome of resolving a raw name against the
	// canonical registry.
	Resolution struct {
		CanonicalID int64
		CategoryID  *int64
		Created     bool
	}
)

// NormalizeName trims surrounding whitespace. Matching elsewhere is exact
// and case-insensitive, so stored casing is whatever was seen first.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateItemName checks a raw line-item name before it enters the registry.
func ValidateItemName(name string) error {
	trimmed := NormalizeName(name)
	if trimmed == "" {
		return ErrEmptyItemName
	}
	if len([]rune(trimmed)) > MaxItemNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (m Money) Validate() error {
	if m.Cents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyCategoryName
	}
	if len([]rune(c.Name)) > MaxItemNameLength {
		return ErrNameTooLong
	}
	return nil
}

func (s ScannedItem) Validate() error {
	if err := ValidateItemName(s.Name); err != nil {
		return err
	}
	if s.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if s.UnitPriceCents < 0 || s.TotalPriceCents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (p ProposedItem) Validate() error {
	if err := ValidateItemName(p.Name); err != nil {
		return err
	}
	if p.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if p.UnitPriceCents < 0 || p.TotalPriceCents < 0 {
		return ErrNegativeAmount
	}
	return nil
}

func (r Receipt) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrEmptyUserID
	}
	if err := r.Total.Validate(); err != nil {
		return err
	}
	switch r.Status {
	case StatusPending, StatusConfirmed, "":
	default:
		return ErrInvalidStatus
	}
	return nil
}
