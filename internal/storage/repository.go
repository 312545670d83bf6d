package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scontrino/internal/core"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var _ Store = (*Repository)(nil)

// Repository is the SQLite-backed Store. A transaction-bound copy is handed
// to InTx callbacks; it shares the parent's *sql.DB for nothing but Close.
type Repository struct {
	db   *sql.DB
	q    querier
	inTx bool
}

func NewRepository(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db, q: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InTx runs fn inside a transaction. Calls from an already transaction-bound
// repository reuse the open transaction instead of nesting.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Repository{db: r.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure from
// the sqlite driver. Resolution treats these as retryable lookup races.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}

func nowUnix() int64 {
	return time.Now().Unix()
}

func nullableID(id sql.NullInt64) *int64 {
	if !id.Valid {
		return nil
	}
	v := id.Int64
	return &v
}

// --- canonical item registry ---

const canonicalItemColumns = "id, user_id, name, category_id, created_at, updated_at"

func scanCanonicalItem(row interface{ Scan(...any) error }) (*core.CanonicalItem, error) {
	var (
		item       core.CanonicalItem
		categoryID sql.NullInt64
		created    int64
		updated    int64
	)
	if err := row.Scan(&item.ID, &item.UserID, &item.Name, &categoryID, &created, &updated); err != nil {
		return nil, err
	}
	item.CategoryID = nullableID(categoryID)
	item.CreatedAt = time.Unix(created, 0).UTC()
	item.UpdatedAt = time.Unix(updated, 0).UTC()
	return &item, nil
}

func (r *Repository) GetCanonicalItemByName(ctx context.Context, userID, name string) (*core.CanonicalItem, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+canonicalItemColumns+" FROM canonical_items WHERE user_id = ? AND name = ? COLLATE NOCASE",
		userID, core.NormalizeName(name))
	item, err := scanCanonicalItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("canonical item %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical item by name: %w", err)
	}
	return item, nil
}

func (r *Repository) GetCanonicalItem(ctx context.Context, id int64) (*core.CanonicalItem, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+canonicalItemColumns+" FROM canonical_items WHERE id = ?", id)
	item, err := scanCanonicalItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("canonical item %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get canonical item: %w", err)
	}
	return item, nil
}

func (r *Repository) CreateCanonicalItem(ctx context.Context, userID, name string) (*core.CanonicalItem, error) {
	name = core.NormalizeName(name)
	now := nowUnix()
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO canonical_items (user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, name, now, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("canonical item %q: %w", name, core.ErrDuplicateName)
	}
	if err != nil {
		return nil, fmt.Errorf("create canonical item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("canonical item insert id: %w", err)
	}
	return &core.CanonicalItem{
		ID:        id,
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Unix(now, 0).UTC(),
		UpdatedAt: time.Unix(now, 0).UTC(),
	}, nil
}

func (r *Repository) ListUncategorizedCanonicalItems(ctx context.Context, userID string) ([]core.CanonicalItem, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+canonicalItemColumns+" FROM canonical_items WHERE user_id = ? AND category_id IS NULL ORDER BY name COLLATE NOCASE",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list uncategorized canonical items: %w", err)
	}
	defer rows.Close()

	var items []core.CanonicalItem
	for rows.Next() {
		item, err := scanCanonicalItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan canonical item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical items: %w", err)
	}
	return items, nil
}

// SetCanonicalItemCategory assigns categoryID to one canonical item. This is
// the single propagation write: every line item referencing the canonical
// item sees the new category on its next read.
func (r *Repository) SetCanonicalItemCategory(ctx context.Context, canonicalID, categoryID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE canonical_items SET category_id = ?, updated_at = ? WHERE id = ?",
		categoryID, nowUnix(), canonicalID)
	if err != nil {
		return 0, fmt.Errorf("set canonical item category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set canonical item category rows: %w", err)
	}
	return n, nil
}

// SetCategoryForItemName categorizes, in one set-based statement, every
// canonical item referenced by a line item of this user whose snapshot name
// matches itemName case-insensitively.
func (r *Repository) SetCategoryForItemName(ctx context.Context, userID, itemName string, categoryID int64) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE canonical_items SET category_id = ?, updated_at = ?
		WHERE user_id = ? AND id IN (
			SELECT DISTINCT li.canonical_item_id
			FROM line_items li
			JOIN receipts rc ON rc.id = li.receipt_id
			WHERE rc.user_id = ?
			  AND li.name = ? COLLATE NOCASE
			  AND li.canonical_item_id IS NOT NULL
		)`,
		categoryID, nowUnix(), userID, userID, core.NormalizeName(itemName))
	if err != nil {
		return 0, fmt.Errorf("set category for item name: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("set category for item name rows: %w", err)
	}
	return n, nil
}

// DeleteCanonicalItem removes a registry entry. Line items referencing it
// keep their snapshot name; the FK is nulled by the schema, never cascaded.
func (r *Repository) DeleteCanonicalItem(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM canonical_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete canonical item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("canonical item %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// --- category store ---

const categoryColumns = "id, user_id, name, created_at, updated_at"

func scanCategory(row interface{ Scan(...any) error }) (*core.Category, error) {
	var (
		cat     core.Category
		created int64
		updated int64
	)
	if err := row.Scan(&cat.ID, &cat.UserID, &cat.Name, &created, &updated); err != nil {
		return nil, err
	}
	cat.CreatedAt = time.Unix(created, 0).UTC()
	cat.UpdatedAt = time.Unix(updated, 0).UTC()
	return &cat, nil
}

func (r *Repository) GetCategoryByName(ctx context.Context, userID, name string) (*core.Category, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE user_id = ? AND name = ? COLLATE NOCASE",
		userID, strings.TrimSpace(name))
	cat, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category by name: %w", err)
	}
	return cat, nil
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	row := r.q.QueryRowContext(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE id = ?", id)
	cat, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return cat, nil
}

func (r *Repository) CreateCategory(ctx context.Context, userID, name string) (*core.Category, error) {
	name = strings.TrimSpace(name)
	cat := core.Category{UserID: userID, Name: name}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	now := nowUnix()
	res, err := r.q.ExecContext(ctx,
		"INSERT INTO categories (user_id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, name, now, now)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("category %q: %w", name, core.ErrDuplicateName)
	}
	if err != nil {
		return nil, fmt.Errorf("create category: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("category insert id: %w", err)
	}
	cat.ID = id
	cat.CreatedAt = time.Unix(now, 0).UTC()
	cat.UpdatedAt = cat.CreatedAt
	return &cat, nil
}

func (r *Repository) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+categoryColumns+" FROM categories WHERE user_id = ? ORDER BY name COLLATE NOCASE",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		cat, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		cats = append(cats, *cat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return cats, nil
}

func (r *Repository) RenameCategory(ctx context.Context, id int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.ErrEmptyCategoryName
	}
	res, err := r.q.ExecContext(ctx,
		"UPDATE categories SET name = ?, updated_at = ? WHERE id = ?",
		name, nowUnix(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("category %q: %w", name, core.ErrDuplicateName)
	}
	if err != nil {
		return fmt.Errorf("rename category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// DeleteCategory removes the label. Canonical items referencing it fall back
// to uncategorized via the SET NULL constraint.
func (r *Repository) DeleteCategory(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// --- receipt / line-item ledger ---

func (r *Repository) CreateReceipt(ctx context.Context, receipt *core.Receipt) (int64, error) {
	if err := receipt.Validate(); err != nil {
		return 0, err
	}
	if receipt.Status == "" {
		receipt.Status = core.StatusPending
	}
	now := nowUnix()
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO receipts (user_id, merchant, purchased_on, total_cents, currency, status, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		receipt.UserID, receipt.Merchant, formatDate(receipt.PurchasedOn),
		receipt.Total.Cents, receipt.Currency, string(receipt.Status), now, now)
	if err != nil {
		return 0, fmt.Errorf("create receipt: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("receipt insert id: %w", err)
	}
	receipt.ID = id
	receipt.Version = 1

	for i := range receipt.Items {
		receipt.Items[i].ReceiptID = id
		receipt.Items[i].Position = i
		itemID, err := r.InsertLineItem(ctx, &receipt.Items[i])
		if err != nil {
			return 0, err
		}
		receipt.Items[i].ID = itemID
	}

	slog.InfoContext(ctx, "Receipt saved",
		"id", id,
		"user_id", receipt.UserID,
		"merchant", receipt.Merchant,
		"items", len(receipt.Items))
	return id, nil
}

func (r *Repository) GetReceipt(ctx context.Context, id int64) (*core.Receipt, error) {
	var (
		receipt     core.Receipt
		purchasedOn string
		status      string
		created     int64
		updated     int64
	)
	err := r.q.QueryRowContext(ctx, `
		SELECT id, user_id, merchant, purchased_on, total_cents, currency, status, version, created_at, updated_at
		FROM receipts WHERE id = ?`, id).
		Scan(&receipt.ID, &receipt.UserID, &receipt.Merchant, &purchasedOn,
			&receipt.Total.Cents, &receipt.Currency, &status, &receipt.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt %d: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	receipt.PurchasedOn = parseDate(purchasedOn)
	receipt.Status = core.ReceiptStatus(status)
	receipt.CreatedAt = time.Unix(created, 0).UTC()
	receipt.UpdatedAt = time.Unix(updated, 0).UTC()

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, receipt_id, canonical_item_id, name, quantity, unit_price_cents, total_price_cents, position
		FROM line_items WHERE receipt_id = ? ORDER BY position, id`, id)
	if err != nil {
		return nil, fmt.Errorf("get receipt items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item        core.LineItem
			canonicalID sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.ReceiptID, &canonicalID, &item.Name,
			&item.Quantity, &item.UnitPrice.Cents, &item.TotalPrice.Cents, &item.Position); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		item.CanonicalItemID = nullableID(canonicalID)
		receipt.Items = append(receipt.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate line items: %w", err)
	}
	return &receipt, nil
}

// DeleteReceipt removes the receipt and, through the CASCADE constraint, its
// line items. Canonical items are left alone.
func (r *Repository) DeleteReceipt(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM receipts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// BumpReceiptVersion is the optimistic-concurrency gate for reconciliation.
// It reports false when fromVersion is stale, without touching anything.
func (r *Repository) BumpReceiptVersion(ctx context.Context, receiptID, fromVersion int64) (bool, error) {
	res, err := r.q.ExecContext(ctx,
		"UPDATE receipts SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?",
		nowUnix(), receiptID, fromVersion)
	if err != nil {
		return false, fmt.Errorf("bump receipt version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bump receipt version rows: %w", err)
	}
	return n == 1, nil
}

func (r *Repository) InsertLineItem(ctx context.Context, item *core.LineItem) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO line_items (receipt_id, canonical_item_id, name, quantity, unit_price_cents, total_price_cents, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ReceiptID, nullArg(item.CanonicalItemID), item.Name, item.Quantity,
		item.UnitPrice.Cents, item.TotalPrice.Cents, item.Position, nowUnix())
	if err != nil {
		return 0, fmt.Errorf("insert line item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("line item insert id: %w", err)
	}
	item.ID = id
	return id, nil
}

func (r *Repository) UpdateLineItem(ctx context.Context, item *core.LineItem) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE line_items
		SET canonical_item_id = ?, name = ?, quantity = ?, unit_price_cents = ?, total_price_cents = ?, position = ?
		WHERE id = ? AND receipt_id = ?`,
		nullArg(item.CanonicalItemID), item.Name, item.Quantity,
		item.UnitPrice.Cents, item.TotalPrice.Cents, item.Position,
		item.ID, item.ReceiptID)
	if err != nil {
		return fmt.Errorf("update line item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("line item %d: %w", item.ID, core.ErrNotFound)
	}
	return nil
}

func (r *Repository) DeleteLineItem(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM line_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete line item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("line item %d: %w", id, core.ErrNotFound)
	}
	return nil
}

// ListReceiptItemsWithCategory reads line items with the category derived
// from their canonical item. The JOIN is the propagation contract: no
// category is ever copied onto a line item row.
func (r *Repository) ListReceiptItemsWithCategory(ctx context.Context, receiptID int64) ([]ItemWithCategory, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT li.id, li.receipt_id, li.canonical_item_id, li.name, li.quantity,
		       li.unit_price_cents, li.total_price_cents, li.position,
		       ci.category_id, COALESCE(cat.name, '')
		FROM line_items li
		LEFT JOIN canonical_items ci ON ci.id = li.canonical_item_id
		LEFT JOIN categories cat ON cat.id = ci.category_id
		WHERE li.receipt_id = ?
		ORDER BY li.position, li.id`, receiptID)
	if err != nil {
		return nil, fmt.Errorf("list items with category: %w", err)
	}
	defer rows.Close()

	var out []ItemWithCategory
	for rows.Next() {
		var (
			entry       ItemWithCategory
			canonicalID sql.NullInt64
			categoryID  sql.NullInt64
		)
		if err := rows.Scan(&entry.Item.ID, &entry.Item.ReceiptID, &canonicalID,
			&entry.Item.Name, &entry.Item.Quantity, &entry.Item.UnitPrice.Cents,
			&entry.Item.TotalPrice.Cents, &entry.Item.Position,
			&categoryID, &entry.CategoryName); err != nil {
			return nil, fmt.Errorf("scan item with category: %w", err)
		}
		entry.Item.CanonicalItemID = nullableID(canonicalID)
		entry.CategoryID = nullableID(categoryID)
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items with category: %w", err)
	}
	return out, nil
}

// DistinctUncategorizedItemNames returns the distinct snapshot names across
// the user's receipts whose canonical item has no category yet. This is the
// oracle batch input.
func (r *Repository) DistinctUncategorizedItemNames(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT DISTINCT li.name COLLATE NOCASE
		FROM line_items li
		JOIN receipts rc ON rc.id = li.receipt_id
		JOIN canonical_items ci ON ci.id = li.canonical_item_id
		WHERE rc.user_id = ? AND ci.category_id IS NULL
		ORDER BY li.name COLLATE NOCASE`, userID)
	if err != nil {
		return nil, fmt.Errorf("distinct uncategorized names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan item name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item names: %w", err)
	}
	return names, nil
}

// ListUsersWithUncategorized returns the users owning at least one
// uncategorized canonical item, for the periodic rule job.
func (r *Repository) ListUsersWithUncategorized(ctx context.Context) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM canonical_items WHERE category_id IS NULL ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("list users with uncategorized: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func nullArg(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}
