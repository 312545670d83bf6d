package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/storage"
)

// fakeStore is an in-memory Store for service tests. InTx snapshots the
// whole state and restores it when the callback fails, so atomicity
// assertions hold the same way they do against SQLite.
type fakeStore struct {
	mu sync.Mutex

	nextID     int64
	canonical  map[int64]*core.CanonicalItem
	categories map[int64]*core.Category
	receipts   map[int64]*core.Receipt
	lineItems  map[int64]*core.LineItem

	// writes counts mutating calls, for idempotence assertions.
	writes int

	// raceOnCreate simulates a concurrent writer: the next
	// CreateCanonicalItem inserts the row as if someone else had won and
	// reports a duplicate.
	raceOnCreate bool

	// staleBumps makes the next N BumpReceiptVersion calls lose the
	// version race.
	staleBumps int

	inTx bool
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		canonical:  make(map[int64]*core.CanonicalItem),
		categories: make(map[int64]*core.Category),
		receipts:   make(map[int64]*core.Receipt),
		lineItems:  make(map[int64]*core.LineItem),
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) lock() func() {
	if f.inTx {
		return func() {}
	}
	f.mu.Lock()
	return f.mu.Unlock
}

// --- canonical item registry ---

func (f *fakeStore) GetCanonicalItemByName(_ context.Context, userID, name string) (*core.CanonicalItem, error) {
	defer f.lock()()
	name = core.NormalizeName(name)
	for _, item := range f.canonical {
		if item.UserID == userID && strings.EqualFold(item.Name, name) {
			cp := *item
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("canonical item %q: %w", name, core.ErrNotFound)
}

func (f *fakeStore) GetCanonicalItem(_ context.Context, id int64) (*core.CanonicalItem, error) {
	defer f.lock()()
	item, ok := f.canonical[id]
	if !ok {
		return nil, fmt.Errorf("canonical item %d: %w", id, core.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (f *fakeStore) CreateCanonicalItem(_ context.Context, userID, name string) (*core.CanonicalItem, error) {
	defer f.lock()()
	name = core.NormalizeName(name)
	for _, item := range f.canonical {
		if item.UserID == userID && strings.EqualFold(item.Name, name) {
			return nil, fmt.Errorf("canonical item %q: %w", name, core.ErrDuplicateName)
		}
	}
	item := &core.CanonicalItem{
		ID:        f.id(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.canonical[item.ID] = item
	f.writes++
	if f.raceOnCreate {
		// The row now exists, but this caller lost the insert race.
		f.raceOnCreate = false
		return nil, fmt.Errorf("canonical item %q: %w", name, core.ErrDuplicateName)
	}
	cp := *item
	return &cp, nil
}

func (f *fakeStore) ListUncategorizedCanonicalItems(_ context.Context, userID string) ([]core.CanonicalItem, error) {
	defer f.lock()()
	var items []core.CanonicalItem
	for _, item := range f.canonical {
		if item.UserID == userID && item.CategoryID == nil {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}

func (f *fakeStore) SetCanonicalItemCategory(_ context.Context, canonicalID, categoryID int64) (int64, error) {
	defer f.lock()()
	item, ok := f.canonical[canonicalID]
	if !ok {
		return 0, nil
	}
	id := categoryID
	item.CategoryID = &id
	item.UpdatedAt = time.Now()
	f.writes++
	return 1, nil
}

func (f *fakeStore) SetCategoryForItemName(_ context.Context, userID, itemName string, categoryID int64) (int64, error) {
	defer f.lock()()
	itemName = core.NormalizeName(itemName)
	touched := make(map[int64]bool)
	for _, li := range f.lineItems {
		receipt, ok := f.receipts[li.ReceiptID]
		if !ok || receipt.UserID != userID || li.CanonicalItemID == nil {
			continue
		}
		if !strings.EqualFold(li.Name, itemName) {
			continue
		}
		if item, ok := f.canonical[*li.CanonicalItemID]; ok && !touched[item.ID] {
			id := categoryID
			item.CategoryID = &id
			touched[item.ID] = true
		}
	}
	if len(touched) > 0 {
		f.writes++
	}
	return int64(len(touched)), nil
}

func (f *fakeStore) DeleteCanonicalItem(_ context.Context, id int64) error {
	defer f.lock()()
	if _, ok := f.canonical[id]; !ok {
		return fmt.Errorf("canonical item %d: %w", id, core.ErrNotFound)
	}
	delete(f.canonical, id)
	for _, li := range f.lineItems {
		if li.CanonicalItemID != nil && *li.CanonicalItemID == id {
			li.CanonicalItemID = nil
		}
	}
	f.writes++
	return nil
}

// --- category store ---

func (f *fakeStore) GetCategoryByName(_ context.Context, userID, name string) (*core.Category, error) {
	defer f.lock()()
	name = strings.TrimSpace(name)
	for _, cat := range f.categories {
		if cat.UserID == userID && strings.EqualFold(cat.Name, name) {
			cp := *cat
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("category %q: %w", name, core.ErrNotFound)
}

func (f *fakeStore) GetCategory(_ context.Context, id int64) (*core.Category, error) {
	defer f.lock()()
	cat, ok := f.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	cp := *cat
	return &cp, nil
}

func (f *fakeStore) CreateCategory(_ context.Context, userID, name string) (*core.Category, error) {
	defer f.lock()()
	name = strings.TrimSpace(name)
	for _, cat := range f.categories {
		if cat.UserID == userID && strings.EqualFold(cat.Name, name) {
			return nil, fmt.Errorf("category %q: %w", name, core.ErrDuplicateName)
		}
	}
	cat := &core.Category{
		ID:        f.id(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	f.categories[cat.ID] = cat
	f.writes++
	cp := *cat
	return &cp, nil
}

func (f *fakeStore) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	defer f.lock()()
	var cats []core.Category
	for _, cat := range f.categories {
		if cat.UserID == userID {
			cats = append(cats, *cat)
		}
	}
	sort.Slice(cats, func(i, j int) bool {
		return strings.ToLower(cats[i].Name) < strings.ToLower(cats[j].Name)
	})
	return cats, nil
}

func (f *fakeStore) RenameCategory(_ context.Context, id int64, name string) error {
	defer f.lock()()
	cat, ok := f.categories[id]
	if !ok {
		return fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	cat.Name = strings.TrimSpace(name)
	f.writes++
	return nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, id int64) error {
	defer f.lock()()
	if _, ok := f.categories[id]; !ok {
		return fmt.Errorf("category %d: %w", id, core.ErrNotFound)
	}
	delete(f.categories, id)
	for _, item := range f.canonical {
		if item.CategoryID != nil && *item.CategoryID == id {
			item.CategoryID = nil
		}
	}
	f.writes++
	return nil
}

// --- ledger ---

func (f *fakeStore) CreateReceipt(_ context.Context, r *core.Receipt) (int64, error) {
	defer f.lock()()
	if err := r.Validate(); err != nil {
		return 0, err
	}
	cp := *r
	cp.ID = f.id()
	cp.Version = 1
	if cp.Status == "" {
		cp.Status = core.StatusPending
	}
	cp.Items = nil
	f.receipts[cp.ID] = &cp
	f.writes++
	r.ID = cp.ID
	r.Version = 1
	return cp.ID, nil
}

func (f *fakeStore) GetReceipt(_ context.Context, id int64) (*core.Receipt, error) {
	defer f.lock()()
	receipt, ok := f.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %d: %w", id, core.ErrNotFound)
	}
	cp := *receipt
	cp.Items = nil
	for _, li := range f.lineItems {
		if li.ReceiptID == id {
			item := *li
			if li.CanonicalItemID != nil {
				v := *li.CanonicalItemID
				item.CanonicalItemID = &v
			}
			cp.Items = append(cp.Items, item)
		}
	}
	sort.Slice(cp.Items, func(i, j int) bool {
		if cp.Items[i].Position != cp.Items[j].Position {
			return cp.Items[i].Position < cp.Items[j].Position
		}
		return cp.Items[i].ID < cp.Items[j].ID
	})
	return &cp, nil
}

func (f *fakeStore) DeleteReceipt(_ context.Context, id int64) error {
	defer f.lock()()
	if _, ok := f.receipts[id]; !ok {
		return fmt.Errorf("receipt %d: %w", id, core.ErrNotFound)
	}
	delete(f.receipts, id)
	for liID, li := range f.lineItems {
		if li.ReceiptID == id {
			delete(f.lineItems, liID)
		}
	}
	f.writes++
	return nil
}

func (f *fakeStore) BumpReceiptVersion(_ context.Context, receiptID, fromVersion int64) (bool, error) {
	defer f.lock()()
	receipt, ok := f.receipts[receiptID]
	if !ok {
		return false, nil
	}
	if f.staleBumps > 0 {
		f.staleBumps--
		return false, nil
	}
	if receipt.Version != fromVersion {
		return false, nil
	}
	receipt.Version++
	f.writes++
	return true, nil
}

func (f *fakeStore) InsertLineItem(_ context.Context, item *core.LineItem) (int64, error) {
	defer f.lock()()
	cp := *item
	cp.ID = f.id()
	if item.CanonicalItemID != nil {
		v := *item.CanonicalItemID
		cp.CanonicalItemID = &v
	}
	f.lineItems[cp.ID] = &cp
	f.writes++
	item.ID = cp.ID
	return cp.ID, nil
}

func (f *fakeStore) UpdateLineItem(_ context.Context, item *core.LineItem) error {
	defer f.lock()()
	existing, ok := f.lineItems[item.ID]
	if !ok || existing.ReceiptID != item.ReceiptID {
		return fmt.Errorf("line item %d: %w", item.ID, core.ErrNotFound)
	}
	cp := *item
	if item.CanonicalItemID != nil {
		v := *item.CanonicalItemID
		cp.CanonicalItemID = &v
	}
	f.lineItems[item.ID] = &cp
	f.writes++
	return nil
}

func (f *fakeStore) DeleteLineItem(_ context.Context, id int64) error {
	defer f.lock()()
	if _, ok := f.lineItems[id]; !ok {
		return fmt.Errorf("line item %d: %w", id, core.ErrNotFound)
	}
	delete(f.lineItems, id)
	f.writes++
	return nil
}

func (f *fakeStore) ListReceiptItemsWithCategory(ctx context.Context, receiptID int64) ([]storage.ItemWithCategory, error) {
	receipt, err := f.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}
	defer f.lock()()
	var out []storage.ItemWithCategory
	for _, li := range receipt.Items {
		entry := storage.ItemWithCategory{Item: li}
		if li.CanonicalItemID != nil {
			if item, ok := f.canonical[*li.CanonicalItemID]; ok && item.CategoryID != nil {
				id := *item.CategoryID
				entry.CategoryID = &id
				if cat, ok := f.categories[id]; ok {
					entry.CategoryName = cat.Name
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (f *fakeStore) DistinctUncategorizedItemNames(_ context.Context, userID string) ([]string, error) {
	defer f.lock()()
	seen := make(map[string]string)
	for _, li := range f.lineItems {
		receipt, ok := f.receipts[li.ReceiptID]
		if !ok || receipt.UserID != userID || li.CanonicalItemID == nil {
			continue
		}
		item, ok := f.canonical[*li.CanonicalItemID]
		if !ok || item.CategoryID != nil {
			continue
		}
		key := strings.ToLower(li.Name)
		if _, ok := seen[key]; !ok {
			seen[key] = li.Name
		}
	}
	var names []string
	for _, name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeStore) ListUsersWithUncategorized(_ context.Context) ([]string, error) {
	defer f.lock()()
	seen := make(map[string]bool)
	for _, item := range f.canonical {
		if item.CategoryID == nil {
			seen[item.UserID] = true
		}
	}
	var users []string
	for user := range seen {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

// InTx snapshots all state, runs fn against a transaction-bound view, and
// restores the snapshot when fn fails.
func (f *fakeStore) InTx(_ context.Context, fn func(storage.Store) error) error {
	if f.inTx {
		return fn(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	snapshot := f.clone()
	f.inTx = true
	err := fn(f)
	f.inTx = false
	if err != nil {
		f.restore(snapshot)
		return err
	}
	return nil
}

type fakeSnapshot struct {
	nextID     int64
	canonical  map[int64]*core.CanonicalItem
	categories map[int64]*core.Category
	receipts   map[int64]*core.Receipt
	lineItems  map[int64]*core.LineItem
	writes     int
}

func (f *fakeStore) clone() fakeSnapshot {
	snap := fakeSnapshot{
		nextID:     f.nextID,
		canonical:  make(map[int64]*core.CanonicalItem, len(f.canonical)),
		categories: make(map[int64]*core.Category, len(f.categories)),
		receipts:   make(map[int64]*core.Receipt, len(f.receipts)),
		lineItems:  make(map[int64]*core.LineItem, len(f.lineItems)),
		writes:     f.writes,
	}
	for id, item := range f.canonical {
		cp := *item
		if item.CategoryID != nil {
			v := *item.CategoryID
			cp.CategoryID = &v
		}
		snap.canonical[id] = &cp
	}
	for id, cat := range f.categories {
		cp := *cat
		snap.categories[id] = &cp
	}
	for id, receipt := range f.receipts {
		cp := *receipt
		cp.Items = nil
		snap.receipts[id] = &cp
	}
	for id, li := range f.lineItems {
		cp := *li
		if li.CanonicalItemID != nil {
			v := *li.CanonicalItemID
			cp.CanonicalItemID = &v
		}
		snap.lineItems[id] = &cp
	}
	return snap
}

func (f *fakeStore) restore(snap fakeSnapshot) {
	f.nextID = snap.nextID
	f.canonical = snap.canonical
	f.categories = snap.categories
	f.receipts = snap.receipts
	f.lineItems = snap.lineItems
	f.writes = snap.writes
}

// fakeClassifier returns a canned reply, or blocks until the context
// expires when block is set.
type fakeClassifier struct {
	reply string
	err   error
	block bool

	calls   int
	prompts []string
}

func (f *fakeClassifier) Send(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeClassifier) Close() error { return nil }
