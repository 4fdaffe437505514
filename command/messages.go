// Package command wraps the daemon's mutating operations as go-command
// messages so callers execute them through a uniform commander surface and
// collect typed results from the context.
package command

import (
	"fmt"
	"strings"
)

const (
	TypeAddAccount     = "sumid.command.account.add"
	TypeRefreshAccount = "sumid.command.account.refresh"
)

// AddAccountMessage starts a new authorization flow. With Wait set the
// command blocks until the browser redirect lands and reports the bound
// account key; otherwise it reports the authorization URL and flow id.
type AddAccountMessage struct {
	Wait bool
}

func (AddAccountMessage) Type() string { return TypeAddAccount }

func (AddAccountMessage) Validate() error { return nil }

// RefreshAccountMessage forces a refresh exchange for one linked account.
type RefreshAccountMessage struct {
	AccountKey string
}

func (RefreshAccountMessage) Type() string { return TypeRefreshAccount }

func (m RefreshAccountMessage) Validate() error {
	if strings.TrimSpace(m.AccountKey) == "" {
		return fmt.Errorf("command: account key is required")
	}
	return nil
}
