package oauth

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	defaultPendingTTL = 15 * time.Minute
	defaultMaxPending = 32
)

type pendingAuthorization struct {
	FlowID    string
	State     string
	Verifier  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Flow      *Flow
}

// pendingTable holds authorizations that were started but whose redirect has
// not landed yet, keyed by CSRF state. Expired entries are pruned on every
// save; the table is bounded, evicting the oldest entry when full.
type pendingTable struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]pendingAuthorization
	now        func() time.Time
}

func newPendingTable(ttl time.Duration, maxEntries int, now func() time.Time) *pendingTable {
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultMaxPending
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &pendingTable{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    map[string]pendingAuthorization{},
		now:        now,
	}
}

func (t *pendingTable) Save(record pendingAuthorization) ([]pendingAuthorization, error) {
	if t == nil {
		return nil, fmt.Errorf("oauth: pending table is not configured")
	}
	state := strings.TrimSpace(record.State)
	if state == "" {
		return nil, fmt.Errorf("oauth: authorization state is required")
	}

	now := t.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = record.CreatedAt.Add(t.ttl)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []pendingAuthorization
	for key, entry := range t.entries {
		if now.After(entry.ExpiresAt) {
			delete(t.entries, key)
			evicted = append(evicted, entry)
		}
	}
	for len(t.entries) >= t.maxEntries {
		oldestKey := ""
		var oldest pendingAuthorization
		for key, entry := range t.entries {
			if oldestKey == "" || entry.CreatedAt.Before(oldest.CreatedAt) {
				oldestKey = key
				oldest = entry
			}
		}
		delete(t.entries, oldestKey)
		evicted = append(evicted, oldest)
	}

	t.entries[state] = record
	return evicted, nil
}

// Consume removes and returns the entry for a state. At most one caller can
// ever receive a given entry.
func (t *pendingTable) Consume(state string) (pendingAuthorization, bool) {
	if t == nil {
		return pendingAuthorization{}, false
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return pendingAuthorization{}, false
	}

	t.mu.Lock()
	record, ok := t.entries[state]
	if ok {
		delete(t.entries, state)
	}
	t.mu.Unlock()

	if !ok {
		return pendingAuthorization{}, false
	}
	if t.now().After(record.ExpiresAt) {
		// the redirect came too late; release any waiter instead of
		// leaving it blocked until its own deadline
		record.Flow.complete(FlowResult{Err: ErrFlowCancelled})
		return pendingAuthorization{}, false
	}
	return record, true
}

// Drain empties the table, returning every live entry.
func (t *pendingTable) Drain() []pendingAuthorization {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	drained := make([]pendingAuthorization, 0, len(t.entries))
	for key, entry := range t.entries {
		delete(t.entries, key)
		drained = append(drained, entry)
	}
	return drained
}
