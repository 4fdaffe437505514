package query

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
)

type staticAccounts []string

func (s staticAccounts) ListAccounts() []string { return s }

func TestListAccountsQuery(t *testing.T) {
	q := NewListAccountsQuery(staticAccounts{"acct-1", "acct-2"})
	keys, err := q.Query(context.Background(), ListAccountsMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"acct-1", "acct-2"}) {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestListAccountsQueryNilReader(t *testing.T) {
	if _, err := NewListAccountsQuery(nil).Query(context.Background(), ListAccountsMessage{}); err == nil {
		t.Fatalf("expected a dependency error")
	}
}

func TestStatusQuery(t *testing.T) {
	q := NewStatusQuery("0.1.0")
	status, err := q.Query(context.Background(), StatusMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status.Version != "0.1.0" {
		t.Fatalf("unexpected version %q", status.Version)
	}
}

func TestStatusQueryCarriesVersionOnly(t *testing.T) {
	status, err := NewStatusQuery("0.1.0").Query(context.Background(), StatusMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	encoded, err := json.Marshal(status)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(encoded) != `{"version":"0.1.0"}` {
		t.Fatalf("status must encode the version and nothing else, got %s", encoded)
	}
}

func TestStatusQueryRequiresVersion(t *testing.T) {
	if _, err := NewStatusQuery("").Query(context.Background(), StatusMessage{}); err == nil {
		t.Fatalf("expected a dependency error")
	}
}
