package storage

import (
	"context"

	"scontrino/internal/core"
)

// ItemWithCategory pairs a line item with the category inherited from its
// canonical item at read time. Nothing category-related is ever stored on
// the line item itself.
type ItemWithCategory struct {
	Item         core.LineItem
	CategoryID   *int64
	CategoryName string
}

// Store is the persistence surface consumed by the services layer.
// All writes inside an InTx callback commit or roll back as one unit.
type Store interface {
	// Canonical item registry.
	GetCanonicalItemByName(ctx context.Context, userID, name string) (*core.CanonicalItem, error)
	GetCanonicalItem(ctx context.Context, id int64) (*core.CanonicalItem, error)
	CreateCanonicalItem(ctx context.Context, userID, name string) (*core.CanonicalItem, error)
	ListUncategorizedCanonicalItems(ctx context.Context, userID string) ([]core.CanonicalItem, error)
	SetCanonicalItemCategory(ctx context.Context, canonicalID, categoryID int64) (int64, error)
	SetCategoryForItemName(ctx context.Context, userID, itemName string, categoryID int64) (int64, error)
	DeleteCanonicalItem(ctx context.Context, id int64) error

	// Category store.
	GetCategoryByName(ctx context.Context, userID, name string) (*core.Category, error)
	GetCategory(ctx context.Context, id int64) (*core.Category, error)
	CreateCategory(ctx context.Context, userID, name string) (*core.Category, error)
	ListCategories(ctx context.Context, userID string) ([]core.Category, error)
	RenameCategory(ctx context.Context, id int64, name string) error
	DeleteCategory(ctx context.Context, id int64) error

	// Receipt and line-item ledger.
	CreateReceipt(ctx context.Context, r *core.Receipt) (int64, error)
	GetReceipt(ctx context.Context, id int64) (*core.Receipt, error)
	DeleteReceipt(ctx context.Context, id int64) error
	BumpReceiptVersion(ctx context.Context, receiptID, fromVersion int64) (bool, error)
	InsertLineItem(ctx context.Context, item *core.LineItem) (int64, error)
	UpdateLineItem(ctx context.Context, item *core.LineItem) error
	DeleteLineItem(ctx context.Context, id int64) error
	ListReceiptItemsWithCategory(ctx context.Context, receiptID int64) ([]ItemWithCategory, error)
	DistinctUncategorizedItemNames(ctx context.Context, userID string) ([]string, error)
	ListUsersWithUncategorized(ctx context.Context) ([]string, error)

	// InTx runs fn against a transaction-bound store. A nested call from
	// inside a transaction reuses the surrounding one.
	InTx(ctx context.Context, fn func(Store) error) error
}
