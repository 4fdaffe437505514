package core

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// APIHandle binds a valid access token to its account key for one batch of
// upstream calls.
type APIHandle struct {
	AccountKey  string
	AccessToken string
	api         RemoteAPI
}

// Timeline fetches the account's timeline through the bound token.
func (h *APIHandle) Timeline(ctx context.Context, params map[string]any) (TimelinePage, error) {
	if h == nil || h.api == nil {
		return TimelinePage{}, fmt.Errorf("core: api handle is not bound")
	}
	return h.api.Timeline(ctx, h.AccessToken, h.AccountKey, params)
}

// Call performs an arbitrary upstream call through the bound token.
func (h *APIHandle) Call(ctx context.Context, httpMethod, endpoint string, params map[string]any) (CallResult, error) {
	if h == nil || h.api == nil {
		return CallResult{}, fmt.Errorf("core: api handle is not bound")
	}
	return h.api.Call(ctx, h.AccessToken, h.AccountKey, httpMethod, endpoint, params)
}

// Registry owns every linked account's credential and decides, per request,
// whether a cached token may be used, must be revalidated, or must be
// refreshed. All mutations persist through the cache store.
type Registry struct {
	api       RemoteAPI
	refresher Refresher
	store     CacheStore
	scopes    []string
	logger    Logger

	mu          sync.RWMutex
	credentials map[string]*Credential

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex

	saveMu sync.Mutex
}

type RegistryDeps struct {
	API       RemoteAPI
	Refresher Refresher
	Store     CacheStore
	Scopes    []string
	Logger    Logger
}

// NewRegistry loads the persisted snapshot. A snapshot recorded under a
// different scope set is discarded wholesale; every loaded credential starts
// in the cached state.
func NewRegistry(ctx context.Context, deps RegistryDeps) (*Registry, error) {
	if deps.API == nil {
		return nil, fmt.Errorf("core: registry requires a remote api")
	}
	if deps.Refresher == nil {
		return nil, fmt.Errorf("core: registry requires a refresher")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("core: registry requires a cache store")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("core: registry requires a logger")
	}

	registry := &Registry{
		api:         deps.API,
		refresher:   deps.Refresher,
		store:       deps.Store,
		scopes:      NormalizeScopes(deps.Scopes),
		logger:      deps.Logger,
		credentials: map[string]*Credential{},
		keyLocks:    map[string]*sync.Mutex{},
	}

	snapshot, ok, err := deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("core: cache load failed: %w", err)
	}
	if !ok {
		return registry, nil
	}
	if !ScopesEqual(snapshot.Scopes, registry.scopes) {
		deps.Logger.Info("discarding credential cache, scope set changed",
			"cached_scopes", snapshot.Scopes,
			"configured_scopes", registry.scopes,
		)
		return registry, nil
	}
	for accountKey, cached := range snapshot.Accounts {
		registry.credentials[accountKey] = &Credential{
			AccountKey:   accountKey,
			AccessToken:  cached.AccessToken,
			RefreshToken: cached.RefreshToken,
			State:        CredentialStateCached,
		}
	}
	return registry, nil
}

// ListAccounts returns the linked account keys. Never touches the network.
func (r *Registry) ListAccounts() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.credentials))
	for key := range r.credentials {
		keys = append(keys, key)
	}
	return keys
}

// ResolveClient yields a handle whose access token was valid at resolution
// time. Cached credentials are validated against the upstream first; a
// rejected token is refreshed exactly once, and the rotated pair persisted
// before the handle is returned. Concurrent resolutions of the same account
// serialize.
func (r *Registry) ResolveClient(ctx context.Context, accountKey string) (*APIHandle, error) {
	if r == nil {
		return nil, fmt.Errorf("core: registry is nil")
	}

	keyLock := r.lockFor(accountKey)
	keyLock.Lock()
	defer keyLock.Unlock()

	r.mu.RLock()
	credential, ok := r.credentials[accountKey]
	r.mu.RUnlock()
	if !ok {
		return nil, NewError(
			fmt.Sprintf("core: no account with key %q", accountKey),
			goerrors.CategoryNotFound, ErrorUnknownAccount,
		)
	}

	if credential.State == CredentialStateCached {
		valid, err := r.api.Validate(ctx, credential.AccessToken)
		if err != nil {
			return nil, WrapError(err, "core: token validation failed",
				goerrors.CategoryExternal, ErrorRemoteAPI)
		}
		if valid {
			r.setState(accountKey, CredentialStateValid)
		} else {
			r.setState(accountKey, CredentialStateExpired)
		}
	}

	if credential.State == CredentialStateExpired {
		pair, err := r.refresher.Refresh(ctx, credential.RefreshToken)
		if err != nil {
			return nil, WrapError(err, "core: token refresh failed",
				goerrors.CategoryAuth, ErrorTokenExpired)
		}
		r.mu.Lock()
		credential.AccessToken = pair.AccessToken
		credential.RefreshToken = pair.RefreshToken
		credential.State = CredentialStateValid
		r.mu.Unlock()
		if err := r.save(ctx); err != nil {
			return nil, err
		}
	}

	return &APIHandle{
		AccountKey:  credential.AccountKey,
		AccessToken: credential.AccessToken,
		api:         r.api,
	}, nil
}

// AddCredential resolves the token pair's identity upstream and binds it,
// replacing any credential already held under the same account key.
func (r *Registry) AddCredential(ctx context.Context, accessToken, refreshToken string) (string, error) {
	if r == nil {
		return "", fmt.Errorf("core: registry is nil")
	}
	accountKey, err := r.api.Identity(ctx, accessToken)
	if err != nil {
		return "", WrapError(err, "core: identity resolution failed",
			goerrors.CategoryExternal, ErrorRemoteAPI)
	}

	keyLock := r.lockFor(accountKey)
	keyLock.Lock()
	defer keyLock.Unlock()

	r.mu.Lock()
	r.credentials[accountKey] = &Credential{
		AccountKey:   accountKey,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		State:        CredentialStateValid,
	}
	r.mu.Unlock()

	if err := r.save(ctx); err != nil {
		return "", err
	}
	return accountKey, nil
}

// Invalidate marks the account's access token expired, forcing a refresh
// exchange on the next resolution. It takes the same per-key lock as
// ResolveClient, so a resolution in flight never observes the flip
// mid-transition.
func (r *Registry) Invalidate(accountKey string) error {
	if r == nil {
		return fmt.Errorf("core: registry is nil")
	}
	keyLock := r.lockFor(accountKey)
	keyLock.Lock()
	defer keyLock.Unlock()

	r.mu.RLock()
	_, ok := r.credentials[accountKey]
	r.mu.RUnlock()
	if !ok {
		return NewError(
			fmt.Sprintf("core: no account with key %q", accountKey),
			goerrors.CategoryNotFound, ErrorUnknownAccount,
		)
	}
	r.setState(accountKey, CredentialStateExpired)
	return nil
}

func (r *Registry) setState(accountKey string, state CredentialState) {
	r.mu.Lock()
	if credential, ok := r.credentials[accountKey]; ok {
		credential.State = state
	}
	r.mu.Unlock()
}

func (r *Registry) lockFor(accountKey string) *sync.Mutex {
	r.keyLocksMu.Lock()
	defer r.keyLocksMu.Unlock()
	lock, ok := r.keyLocks[accountKey]
	if !ok {
		lock = &sync.Mutex{}
		r.keyLocks[accountKey] = lock
	}
	return lock
}

// save snapshots the registry under the configured scope fingerprint. A
// single writer at a time; snapshot content is taken under the read lock.
func (r *Registry) save(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.RLock()
	snapshot := CacheSnapshot{
		Accounts: make(map[string]CachedAccount, len(r.credentials)),
		Scopes:   cloneStringSlice(r.scopes),
	}
	for accountKey, credential := range r.credentials {
		snapshot.Accounts[accountKey] = CachedAccount{
			AccessToken:  credential.AccessToken,
			RefreshToken: credential.RefreshToken,
		}
	}
	r.mu.RUnlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("core: cache save failed: %w", err)
	}
	return nil
}
