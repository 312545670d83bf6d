package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"scontrino/internal/cache"
	"scontrino/internal/core"
	"scontrino/internal/storage"
)

// Resolver turns raw, free-text line-item names into canonical registry
// identities. Matching is exact and case-insensitive; the first spelling
// seen becomes the stored one.
type Resolver struct {
	store storage.Store

	// names memoizes lowercased (user, name) -> canonical id. The mapping
	// is stable for the life of a registry entry; the category is always
	// read fresh.
	names *cache.LRUCache[int64]
}

const (
	resolverCacheSize = 4096
	resolverCacheTTL  = 30 * time.Minute
)

func NewResolver(store storage.Store) *Resolver {
	return &Resolver{
		store: store,
		names: cache.NewLRUCache[int64](resolverCacheSize, resolverCacheTTL),
	}
}

// ResolveOrCreate returns the canonical identity for name, creating a new
// uncategorized registry entry when the name has never been seen. Two
// concurrent resolutions of the same unseen name may both attempt the
// insert; the loser's uniqueness violation is absorbed by re-running the
// lookup and returning the winner's id.
func (r *Resolver) ResolveOrCreate(ctx context.Context, userID, name string) (core.Resolution, error) {
	return r.resolveWith(ctx, r.store, userID, name)
}

// resolveWith is ResolveOrCreate against an explicit store, so the
// reconciler can resolve inside its own transaction.
func (r *Resolver) resolveWith(ctx context.Context, st storage.Store, userID, name string) (core.Resolution, error) {
	if err := core.ValidateItemName(name); err != nil {
		return core.Resolution{}, err
	}
	name = core.NormalizeName(name)

	if id, ok := r.names.Get(cacheKey(userID, name)); ok {
		item, err := st.GetCanonicalItem(ctx, id)
		if err == nil {
			return core.Resolution{CanonicalID: item.ID, CategoryID: item.CategoryID}, nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return core.Resolution{}, err
		}
		// Registry entry was deleted behind the cache.
		r.names.Delete(cacheKey(userID, name))
	}

	item, err := st.GetCanonicalItemByName(ctx, userID, name)
	if err == nil {
		r.names.Set(cacheKey(userID, name), item.ID)
		return core.Resolution{CanonicalID: item.ID, CategoryID: item.CategoryID}, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Resolution{}, err
	}

	created, err := st.CreateCanonicalItem(ctx, userID, name)
	if errors.Is(err, core.ErrDuplicateName) {
		// Lost the creation race; the row exists now.
		winner, lookupErr := st.GetCanonicalItemByName(ctx, userID, name)
		if lookupErr != nil {
			return core.Resolution{}, fmt.Errorf("lookup after create race: %w", lookupErr)
		}
		r.names.Set(cacheKey(userID, name), winner.ID)
		return core.Resolution{CanonicalID: winner.ID, CategoryID: winner.CategoryID}, nil
	}
	if err != nil {
		return core.Resolution{}, err
	}

	slog.DebugContext(ctx, "Canonical item created",
		"canonical_item_id", created.ID,
		"user_id", userID,
		"item_name", created.Name)

	r.names.Set(cacheKey(userID, name), created.ID)
	return core.Resolution{CanonicalID: created.ID, Created: true}, nil
}

// RemoveCanonical deletes a registry entry by name. Administrative and
// rare: line items referencing it keep their snapshot text and lose the
// link (SET NULL), never their rows.
func (r *Resolver) RemoveCanonical(ctx context.Context, userID, name string) error {
	item, err := r.store.GetCanonicalItemByName(ctx, userID, name)
	if err != nil {
		return err
	}
	if err := r.store.DeleteCanonicalItem(ctx, item.ID); err != nil {
		return err
	}
	r.names.Delete(cacheKey(userID, core.NormalizeName(name)))

	slog.InfoContext(ctx, "Canonical item removed",
		"canonical_item_id", item.ID,
		"user_id", userID,
		"item_name", item.Name)
	return nil
}

// CleanExpiredNames drops expired name-cache entries and reports how many
// were removed. Called periodically by the worker.
func (r *Resolver) CleanExpiredNames() int {
	return r.names.CleanExpired()
}

func cacheKey(userID, name string) string {
	return userID + "\x00" + strings.ToLower(name)
}
