/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package escrow

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/database"
	"github.com/blnkfinance/escrow/internal/apierror"
	redlock "github.com/blnkfinance/escrow/internal/lock"
	redis_db "github.com/blnkfinance/escrow/internal/redis-db"
)

var tracer = otel.Tracer("escrow.service")

//go:embed sql/*.sql
var SQLFiles embed.FS

const (
	// HoldPeriod is how long confirmed funds stay releasable-pending-dispute.
	HoldPeriod = 12 * time.Hour
	// WithdrawalDelay is how long after confirmation the wholesaler may withdraw.
	WithdrawalDelay = 24 * time.Hour
)

// Escrow is the service root. Every caller-facing operation hangs off it.
type Escrow struct {
	datasource        database.IDataSource
	redis             redis.UniversalClient
	queue             *Queue
	notifier          Notifier
	hardware          HardwareRegistry
	parties           PartyResolver
	now               func() time.Time
	merchantAccountID string
	defaultCurrency   string
	lockTimeout       time.Duration
	lockWait          time.Duration
}

type Option func(*Escrow)

// WithClock replaces time.Now. Scenario tests use it to move across hold windows.
func WithClock(now func() time.Time) Option {
	return func(e *Escrow) { e.now = now }
}

func WithNotifier(n Notifier) Option {
	return func(e *Escrow) { e.notifier = n }
}

func WithHardwareRegistry(h HardwareRegistry) Option {
	return func(e *Escrow) { e.hardware = h }
}

// WithRedis enables per-transaction locking on client.
func WithRedis(client redis.UniversalClient) Option {
	return func(e *Escrow) { e.redis = client }
}

// WithQueue enables scheduled release tasks.
func WithQueue(q *Queue) Option {
	return func(e *Escrow) { e.queue = q }
}

func WithPartyResolver(r PartyResolver) Option {
	return func(e *Escrow) { e.parties = r }
}

func WithMerchantAccount(id string) Option {
	return func(e *Escrow) { e.merchantAccountID = id }
}

// NewEscrow builds the service on ds. Settings come from the loaded
// configuration when there is one and fall back to the package defaults.
func NewEscrow(ds database.IDataSource, opts ...Option) *Escrow {
	e := &Escrow{
		datasource:        ds,
		notifier:          LogNotifier{},
		hardware:          NewDatasourceHardwareRegistry(ds),
		parties:           StaticPartyResolver{},
		now:               time.Now,
		merchantAccountID: config.DefaultMerchantAccountID,
		defaultCurrency:   config.DefaultCurrency,
		lockTimeout:       config.DefaultLockTimeoutSeconds * time.Second,
		lockWait:          config.DefaultLockWaitSeconds * time.Second,
	}
	if cfg, err := config.Fetch(); err == nil {
		if cfg.Escrow.MerchantAccountID != "" {
			e.merchantAccountID = cfg.Escrow.MerchantAccountID
		}
		if cfg.Escrow.DefaultCurrency != "" {
			e.defaultCurrency = cfg.Escrow.DefaultCurrency
		}
		if cfg.Escrow.LockTimeoutSeconds > 0 {
			e.lockTimeout = time.Duration(cfg.Escrow.LockTimeoutSeconds) * time.Second
		}
		if cfg.Escrow.LockWaitSeconds > 0 {
			e.lockWait = time.Duration(cfg.Escrow.LockWaitSeconds) * time.Second
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewEscrowFromConfig wires redis locking, the task queue and queued
// notifications from cnf around ds.
func NewEscrowFromConfig(ds database.IDataSource, cnf *config.Configuration, opts ...Option) (*Escrow, error) {
	var base []Option
	if cnf.Redis.Dns != "" {
		redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", cnf.Redis.Dns)}, cnf.Redis.SkipTLSVerify)
		if err != nil {
			return nil, err
		}
		queue, err := NewQueue(cnf)
		if err != nil {
			return nil, err
		}
		base = append(base, WithRedis(redisClient.Client()), WithQueue(queue), WithNotifier(NewQueueNotifier(queue)))
	}
	return NewEscrow(ds, append(base, opts...)...), nil
}

// Datasource exposes the underlying store to the worker processes.
func (e *Escrow) Datasource() database.IDataSource {
	return e.datasource
}

// MerchantAccountID is the account every ledger entry of this instance is booked under.
func (e *Escrow) MerchantAccountID() string {
	return e.merchantAccountID
}

// settlementCurrency resolves the currency of an amount entering the escrow.
// Every balance is held in the configured currency and amounts are never converted.
func (e *Escrow) settlementCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return e.defaultCurrency, nil
	}
	if currency != e.defaultCurrency {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("unsupported currency %s, amounts are held in %s", currency, e.defaultCurrency), nil)
	}
	return currency, nil
}

// acquireLock serialises writers of key across instances. Without redis it is a no-op
// and the compare-and-swap in the store is the only guard.
func (e *Escrow) acquireLock(ctx context.Context, key string) (func(), error) {
	if e.redis == nil {
		return func() {}, nil
	}
	locker := redlock.NewLocker(e.redis, key, uuid.NewString())
	if err := locker.WaitLock(ctx, e.lockTimeout, e.lockWait); err != nil {
		if errors.Is(err, redlock.ErrLockHeld) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "transaction is being modified, retry", nil)
		}
		return nil, apierror.NewAPIError(apierror.ErrDependencyUnavailable, "failed to acquire lock", err)
	}
	return func() {
		// a fresh context so a cancelled request still frees the key
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release lock %s: %v", locker.Key(), err)
		}
	}, nil
}
