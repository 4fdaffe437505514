package core

import (
	"context"
	"net/http"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteAPI is the daemon's only window onto the upstream service: identity
// and validity of access tokens, the two OAuth exchanges, and the data
// endpoints. Implementations live in the remote package; tests substitute
// fakes.
type RemoteAPI interface {
	// Identity resolves the account key bound to an access token. A token
	// the upstream rejects yields an error matching ErrUnauthorized.
	Identity(ctx context.Context, accessToken string) (string, error)
	// Validate reports whether the token is currently accepted upstream.
	// Only a definitive rejection yields (false, nil); transport failures
	// surface as errors.
	Validate(ctx context.Context, accessToken string) (bool, error)
	ExchangeCode(ctx context.Context, code, pkceVerifier, redirectURI string) (TokenPair, error)
	// ExchangeRefresh may return a pair whose RefreshToken is empty when
	// the upstream chose not to rotate it; callers keep the old one.
	ExchangeRefresh(ctx context.Context, refreshToken string, scopes []string) (TokenPair, error)
	Timeline(ctx context.Context, accessToken, accountKey string, params map[string]any) (TimelinePage, error)
	Call(ctx context.Context, accessToken, accountKey, httpMethod, endpoint string, params map[string]any) (CallResult, error)
}

// ScriptEngine runs one filter script over one item in a fresh, isolated
// runtime. A nil item with a nil error means the script rejected the item.
type ScriptEngine interface {
	Run(source string, item map[string]any) (map[string]any, error)
}

// CacheStore persists the credential snapshot. Load returns ok=false for
// both a missing and an unreadable backing store; the latter is logged by
// the implementation, never fatal.
type CacheStore interface {
	Load(ctx context.Context) (CacheSnapshot, bool, error)
	Save(ctx context.Context, snapshot CacheSnapshot) error
}

// Refresher exchanges a refresh token for a fresh pair. Satisfied by the
// oauth coordinator.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (TokenPair, error)
}
