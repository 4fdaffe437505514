package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type accountRecord struct {
	bun.BaseModel `bun:"table:cache_accounts,alias:ca"`

	ID           string    `bun:"id,pk"`
	AccountKey   string    `bun:"account_key,notnull,unique"`
	AccessToken  string    `bun:"access_token,notnull"`
	RefreshToken string    `bun:"refresh_token,notnull"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type scopeRecord struct {
	bun.BaseModel `bun:"table:cache_scopes,alias:cs"`

	ID        string    `bun:"id,pk"`
	Scope     string    `bun:"scope,notnull,unique"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
