package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"scontrino/internal/core"
	"scontrino/internal/oracle"
	"scontrino/internal/rules"
	"scontrino/internal/storage"
)

// Categorizer implements the four categorization modes. All of them
// converge on the same propagation contract: the category lands on the
// canonical item, and every line item referencing it sees the change on its
// next read. No mode ever rewrites line items.
type Categorizer struct {
	store         storage.Store
	rules         *rules.Table
	oracle        oracle.Classifier
	oracleTimeout time.Duration
}

// BulkResult reports best-effort bulk categorization: one entry failing is
// recorded and does not abort the rest.
type BulkResult struct {
	Applied int
	Failed  map[string]error
}

// JobStats reports one rule-job run.
type JobStats struct {
	Scanned     int
	Categorized int
}

func NewCategorizer(store storage.Store, table *rules.Table, classifier oracle.Classifier, oracleTimeout time.Duration) *Categorizer {
	if table == nil {
		table = rules.Empty()
	}
	if oracleTimeout <= 0 {
		oracleTimeout = 5 * time.Minute
	}
	return &Categorizer{
		store:         store,
		rules:         table,
		oracle:        classifier,
		oracleTimeout: oracleTimeout,
	}
}

// Categorize assigns categoryID to the canonical item matching name.
// The target must already exist in the registry.
func (c *Categorizer) Categorize(ctx context.Context, userID, name string, categoryID int64) error {
	if err := core.ValidateItemName(name); err != nil {
		return err
	}

	cat, err := c.store.GetCategory(ctx, categoryID)
	if err != nil {
		return err
	}
	if cat.UserID != userID {
		return fmt.Errorf("category %d: %w", categoryID, core.ErrNotFound)
	}

	item, err := c.store.GetCanonicalItemByName(ctx, userID, name)
	if err != nil {
		return err
	}

	if _, err := c.store.SetCanonicalItemCategory(ctx, item.ID, categoryID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Canonical item categorized",
		"canonical_item_id", item.ID,
		"user_id", userID,
		"item_name", item.Name,
		"category_id", categoryID)
	return nil
}

// CategorizeBulk applies Categorize per entry in deterministic (sorted
// name) order with partial-success semantics.
func (c *Categorizer) CategorizeBulk(ctx context.Context, userID string, mapping map[string]int64) (BulkResult, error) {
	result := BulkResult{Failed: make(map[string]error)}

	names := make([]string, 0, len(mapping))
	for name := range mapping {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := c.Categorize(ctx, userID, name, mapping[name]); err != nil {
			result.Failed[name] = err
			slog.WarnContext(ctx, "Bulk categorization entry failed",
				"user_id", userID,
				"item_name", name,
				"error", err)
			continue
		}
		result.Applied++
	}

	slog.InfoContext(ctx, "Bulk categorization finished",
		"user_id", userID,
		"applied", result.Applied,
		"failed", len(result.Failed))
	return result, nil
}

// RunCategorizationJob matches every uncategorized canonical item against
// the injected keyword table; the first matching rule wins. Items matching
// no rule stay uncategorized. Running it again with no new items produces
// zero writes.
func (c *Categorizer) RunCategorizationJob(ctx context.Context, userID string) (JobStats, error) {
	var stats JobStats

	err := c.store.InTx(ctx, func(st storage.Store) error {
		items, err := st.ListUncategorizedCanonicalItems(ctx, userID)
		if err != nil {
			return err
		}
		stats.Scanned = len(items)

		categoryIDs := make(map[string]int64)
		for _, item := range items {
			categoryName, ok := c.rules.Match(item.Name)
			if !ok {
				continue
			}
			catID, err := getOrCreateCategory(ctx, st, userID, categoryName, categoryIDs)
			if err != nil {
				return err
			}
			if _, err := st.SetCanonicalItemCategory(ctx, item.ID, catID); err != nil {
				return err
			}
			stats.Categorized++
		}
		return nil
	})
	if err != nil {
		return JobStats{}, err
	}

	if stats.Categorized > 0 {
		slog.InfoContext(ctx, "Rule categorization job finished",
			"user_id", userID,
			"scanned", stats.Scanned,
			"categorized", stats.Categorized)
	}
	return stats, nil
}

// AutoCategorize asks the classifier oracle to label every still
// uncategorized item name in one batch, then applies the answers in one
// transaction. The oracle call runs outside any transaction so a slow
// round trip never holds storage locks, and it is never retried here.
func (c *Categorizer) AutoCategorize(ctx context.Context, userID string) ([]core.Category, error) {
	names, err := c.store.DistinctUncategorizedItemNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return c.store.ListCategories(ctx, userID)
	}

	if c.oracle == nil {
		return nil, fmt.Errorf("no classifier configured: %w", core.ErrOracleUnavailable)
	}

	prompt := oracle.BuildPrompt(names)

	callCtx, cancel := context.WithTimeout(ctx, c.oracleTimeout)
	defer cancel()

	started := time.Now()
	reply, err := c.oracle.Send(callCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("oracle call after %v: %w", c.oracleTimeout, core.ErrOracleTimeout)
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("oracle call: %v: %w", err, core.ErrOracleUnavailable)
	}

	slog.InfoContext(ctx, "Oracle replied",
		"user_id", userID,
		"items", len(names),
		"duration_ms", time.Since(started).Milliseconds())

	suggestions, err := oracle.ExtractArray(reply)
	if err != nil {
		return nil, err
	}

	err = c.store.InTx(ctx, func(st storage.Store) error {
		categoryIDs := make(map[string]int64)
		for _, s := range suggestions {
			catID, err := getOrCreateCategory(ctx, st, userID, s.Category, categoryIDs)
			if err != nil {
				return err
			}
			if _, err := st.SetCategoryForItemName(ctx, userID, s.Item, catID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Auto-categorization applied",
		"user_id", userID,
		"suggestions", len(suggestions))

	return c.store.ListCategories(ctx, userID)
}

// getOrCreateCategory finds a category by case-insensitive name or creates
// it. seen memoizes ids within one batch so "Produce" and "produce" in the
// same oracle reply cannot split into two labels.
func getOrCreateCategory(ctx context.Context, st storage.Store, userID, name string, seen map[string]int64) (int64, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if id, ok := seen[key]; ok {
		return id, nil
	}

	cat, err := st.GetCategoryByName(ctx, userID, name)
	if err == nil {
		seen[key] = cat.ID
		return cat.ID, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return 0, err
	}

	created, err := st.CreateCategory(ctx, userID, name)
	if err != nil {
		return 0, err
	}
	seen[key] = created.ID
	return created.ID, nil
}
