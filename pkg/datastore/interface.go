package datastore

import (
	"context"
	"time"

	"github.com/NicolasHaas/gavel/pkg/model"
)

type DataProviderFactory interface {
	NonTx() DataStore
	Tx(context.Context) (DataStoreTx, error)
}

type DataStoreTx interface {
	DataStore
	Rollback() error
	Commit() error
}

// DataStore defines the persistence interface for bans and the moderation
// log. The default implementation is SQLite; pkg/store provides an in-memory
// one for tests.
type DataStore interface {
	ConfigReadProvider

	BanReadProvider
	BanWriteProvider

	ActionReadProvider
	ActionWriteProvider
}

// Compile-time check: *ProviderFactory implements DataProviderFactory.
var _ DataProviderFactory = (*ProviderFactory)(nil)

type ConfigReadProvider interface {
	ZeroTime() time.Time
	Close() error
}

type BanReadProvider interface {
	GetBan(ctx context.Context, id int64) (*model.Ban, error)
	ListBansByIPID(ctx context.Context, ipid int64) ([]model.Ban, error)
	ListBansByHDID(ctx context.Context, hdid string) ([]model.Ban, error)
	RecentBans(ctx context.Context, limit int) ([]model.Ban, error)
	ListBans(ctx context.Context) ([]model.Ban, error)
}

type BanWriteProvider interface {
	CreateBan(ctx context.Context, ban *model.Ban) error
	AddBanIPID(ctx context.Context, id int64, ipid int64) error
	AddBanHDID(ctx context.Context, id int64, hdid string) error
	SetBanUnbanned(ctx context.Context, id int64) error
}

type ActionReadProvider interface {
	ListActions(ctx context.Context, filters model.ActionFilters) ([]model.Action, error)
}

type ActionWriteProvider interface {
	LogAction(ctx context.Context, action model.Action) error
}
