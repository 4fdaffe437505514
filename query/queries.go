// Package query holds the read-side handlers the RPC dispatcher serves
// without touching the network: daemon status and linked-account listing.
package query

import (
	"context"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/sumi-social/sumid/core"
)

// AccountReader lists linked accounts. The credential registry implements it.
type AccountReader interface {
	ListAccounts() []string
}

type ListAccountsMessage struct{}

func (ListAccountsMessage) Type() string { return "sumid.query.account.list" }

func (ListAccountsMessage) Validate() error { return nil }

type ListAccountsQuery struct {
	reader AccountReader
}

func NewListAccountsQuery(reader AccountReader) *ListAccountsQuery {
	return &ListAccountsQuery{reader: reader}
}

func (q *ListAccountsQuery) Query(_ context.Context, _ ListAccountsMessage) ([]string, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: account reader is required")
	}
	keys := q.reader.ListAccounts()
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

type StatusMessage struct{}

func (StatusMessage) Type() string { return "sumid.query.status" }

func (StatusMessage) Validate() error { return nil }

// Status is the daemon's liveness answer: the version string and nothing
// else. Linked accounts come from account.list.
type Status struct {
	Version string `json:"version"`
}

type StatusQuery struct {
	version string
}

func NewStatusQuery(version string) *StatusQuery {
	return &StatusQuery{version: version}
}

func (q *StatusQuery) Query(_ context.Context, _ StatusMessage) (Status, error) {
	if q == nil || strings.TrimSpace(q.version) == "" {
		return Status{}, queryDependencyError("query: version is required")
	}
	return Status{Version: q.version}, nil
}

func queryDependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithTextCode(core.ErrorInternal)
}
