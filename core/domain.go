package core

import (
	"sort"
	"strings"
)

// CredentialState tracks how much trust the registry currently places in a
// stored token pair.
type CredentialState string

const (
	// CredentialStateCached means the pair was read from the cache and has
	// not been validated against the upstream since.
	CredentialStateCached CredentialState = "cached"
	// CredentialStateValid means a successful identity validation or token
	// exchange happened since the last mutation of this credential.
	CredentialStateValid CredentialState = "valid"
	// CredentialStateExpired means the access token was rejected upstream;
	// only a refresh or a fresh authorization can leave this state.
	CredentialStateExpired CredentialState = "expired"
)

type Credential struct {
	AccountKey   string
	AccessToken  string
	RefreshToken string
	State        CredentialState
}

// TokenPair is the result of a code or refresh exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// CachedAccount is the persisted, state-less form of a credential.
type CachedAccount struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// CacheSnapshot is the on-disk shape of the credential cache. Scopes act as
// a fingerprint: a snapshot recorded under a different scope set must be
// discarded wholesale at load time.
type CacheSnapshot struct {
	Accounts map[string]CachedAccount `json:"accounts"`
	Scopes   []string                 `json:"scopes"`
}

// RateLimit carries the upstream's remaining-call count and the epoch second
// at which the window resets.
type RateLimit struct {
	Remaining int
	Reset     int64
}

// TimelinePage is one upstream timeline fetch: the items to filter plus the
// passthrough sections the daemon does not interpret.
type TimelinePage struct {
	Items     []map[string]any
	Includes  map[string]any
	Meta      map[string]any
	RateLimit RateLimit
}

// CallResult is the raw passthrough result of an arbitrary upstream call.
type CallResult struct {
	Body      any
	RateLimit RateLimit
}

// AddAccountResult reports an authorization flow started (or completed) by
// the account.add operation.
type AddAccountResult struct {
	AccountKey       string `json:"account_key,omitempty"`
	AuthorizationURL string `json:"authorization_url,omitempty"`
	FlowID           string `json:"flow_id,omitempty"`
}

// NormalizeScopes lowercases, trims, dedupes, and sorts a scope list so two
// scope sets compare byte-for-byte.
func NormalizeScopes(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(strings.ToLower(value))
		if trimmed == "" {
			continue
		}
		set[trimmed] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for scope := range set {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// ScopesEqual compares two scope sets after normalization.
func ScopesEqual(a, b []string) bool {
	left := NormalizeScopes(a)
	right := NormalizeScopes(b)
	if len(left) != len(right) {
		return false
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

// MissingScopes returns the required scopes absent from granted, sorted.
func MissingScopes(required, granted []string) []string {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, scope := range NormalizeScopes(granted) {
		grantedSet[scope] = struct{}{}
	}
	missing := []string{}
	for _, scope := range NormalizeScopes(required) {
		if _, ok := grantedSet[scope]; !ok {
			missing = append(missing, scope)
		}
	}
	return missing
}

func cloneStringSlice(values []string) []string {
	return append([]string(nil), values...)
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

// CloneItem deep-copies one timeline item so filter scripts can never
// mutate shared state.
func CloneItem(item map[string]any) map[string]any {
	if item == nil {
		return nil
	}
	out := make(map[string]any, len(item))
	for key, value := range item {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return CloneItem(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return typed
	}
}
