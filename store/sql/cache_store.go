// Package sqlstore persists the credential snapshot in a relational
// database, sqlite by default or postgres via the cache DSN. The snapshot is
// replaced wholesale on every save inside one transaction, mirroring the
// file store's rename semantics.
package sqlstore

import (
	"context"
	"fmt"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/sumi-social/sumid/core"
)

// CacheStore implements core.CacheStore over bun.
type CacheStore struct {
	db   *bun.DB
	repo repository.Repository[*accountRecord]
}

func NewCacheStore(db *bun.DB) (*CacheStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*accountRecord](db, accountHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid account repository wiring: %w", err)
		}
	}
	return &CacheStore{db: db, repo: repo}, nil
}

func (s *CacheStore) Load(ctx context.Context) (core.CacheSnapshot, bool, error) {
	if s == nil || s.db == nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("sqlstore: cache store is not configured")
	}

	var scopes []scopeRecord
	if err := s.db.NewSelect().Model(&scopes).OrderExpr("scope ASC").Scan(ctx); err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("sqlstore: load scopes: %w", err)
	}
	records, _, err := s.repo.List(ctx, repository.OrderBy("account_key ASC"))
	if err != nil {
		return core.CacheSnapshot{}, false, fmt.Errorf("sqlstore: load accounts: %w", err)
	}
	if len(scopes) == 0 && len(records) == 0 {
		return core.CacheSnapshot{}, false, nil
	}

	snapshot := core.CacheSnapshot{
		Accounts: make(map[string]core.CachedAccount, len(records)),
		Scopes:   make([]string, 0, len(scopes)),
	}
	for _, scope := range scopes {
		snapshot.Scopes = append(snapshot.Scopes, scope.Scope)
	}
	for _, record := range records {
		snapshot.Accounts[record.AccountKey] = core.CachedAccount{
			AccessToken:  record.AccessToken,
			RefreshToken: record.RefreshToken,
		}
	}
	return snapshot, true, nil
}

// Save replaces the whole snapshot transactionally.
func (s *CacheStore) Save(ctx context.Context, snapshot core.CacheSnapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: cache store is not configured")
	}
	now := time.Now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*accountRecord)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: clear accounts: %w", err)
		}
		if _, err := tx.NewDelete().Model((*scopeRecord)(nil)).Where("1 = 1").Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: clear scopes: %w", err)
		}
		for accountKey, cached := range snapshot.Accounts {
			record := &accountRecord{
				ID:           uuid.NewString(),
				AccountKey:   accountKey,
				AccessToken:  cached.AccessToken,
				RefreshToken: cached.RefreshToken,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				return fmt.Errorf("sqlstore: insert account %q: %w", accountKey, err)
			}
		}
		for _, scope := range core.NormalizeScopes(snapshot.Scopes) {
			record := &scopeRecord{
				ID:        uuid.NewString(),
				Scope:     scope,
				CreatedAt: now,
			}
			if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
				return fmt.Errorf("sqlstore: insert scope %q: %w", scope, err)
			}
		}
		return nil
	})
}
