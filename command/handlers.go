package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/sumi-social/sumid/core"
)

// AccountService is the mutating surface the commands drive. The RPC
// dispatcher implements it.
type AccountService interface {
	AddAccount(ctx context.Context, wait bool) (core.AddAccountResult, error)
	RefreshAccount(ctx context.Context, accountKey string) error
}

type AddAccountCommand struct {
	service AccountService
}

func NewAddAccountCommand(service AccountService) *AddAccountCommand {
	return &AddAccountCommand{service: service}
}

func (c *AddAccountCommand) Execute(ctx context.Context, msg AddAccountMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: account service is required")
	}
	out, err := c.service.AddAccount(ctx, msg.Wait)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshAccountCommand struct {
	service AccountService
}

func NewRefreshAccountCommand(service AccountService) *RefreshAccountCommand {
	return &RefreshAccountCommand{service: service}
}

func (c *RefreshAccountCommand) Execute(ctx context.Context, msg RefreshAccountMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: account service is required")
	}
	return c.service.RefreshAccount(ctx, msg.AccountKey)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
