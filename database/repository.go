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

package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/escrow/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	Ping(ctx context.Context) error
	transaction
	ledger
	lockedFunds
	hardware
	withdrawal
}

// transaction persists escrow transactions. Every state write is a compare-and-swap on
// (status, version) and commits together with its ledger entries.
type transaction interface {
	RecordTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransactionByRef(ctx context.Context, ref string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction, expected model.Status, entries ...model.LedgerEntry) error
	// GetReleasableTransactions pages through due on_hold transactions in
	// (hold_release_at, transaction_ref) order, starting strictly after after.
	GetReleasableTransactions(ctx context.Context, now time.Time, after model.Cursor, limit int) ([]*model.Transaction, error)
	ClaimFundsLockedNotification(ctx context.Context, ref string, at time.Time) (bool, error)
}

// ledger is append-only.
type ledger interface {
	RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
	GetLedgerEntries(ctx context.Context, filter model.LedgerFilter) ([]model.LedgerEntry, error)
	GetEscrowBalance(ctx context.Context, merchantAccountID string) (model.EscrowBalance, error)
}

// lockedFunds covers the per-retailer prepaid balance. FundTransaction and
// AdjustLockedFunds serialize on the retailer's row.
type lockedFunds interface {
	GetLockedFunds(ctx context.Context, retailerID string) (model.LockedFunds, error)
	GetCommittedAmount(ctx context.Context, retailerID, excludeRef string) (decimal.Decimal, error)
	FundTransaction(ctx context.Context, txn *model.Transaction, entry model.LedgerEntry) error
	AdjustLockedFunds(ctx context.Context, adj model.LockedFundsAdjustment, entry model.LedgerEntry, now time.Time) (model.LockedFunds, error)
}

type hardware interface {
	RegisterHardwareGenerator(ctx context.Context, gen *model.HardwareGenerator) error
	GetHardwareGenerator(ctx context.Context, generatorID string) (*model.HardwareGenerator, error)
	TouchHardwareGenerator(ctx context.Context, generatorID string, at time.Time) error
	// GetHardwareGenerators lists devices registered by or assigned to holderID,
	// or every device when holderID is empty.
	GetHardwareGenerators(ctx context.Context, holderID string) ([]*model.HardwareGenerator, error)
	AssignHardwareGenerator(ctx context.Context, generatorID, assignedTo string) (*model.HardwareGenerator, error)
}

type withdrawal interface {
	GetWithdrawableTransactions(ctx context.Context, wholesalerID string, now time.Time) ([]*model.Transaction, error)
	RecordWithdrawal(ctx context.Context, w *model.Withdrawal, txns []*model.Transaction, entries []model.LedgerEntry) error
	GetWithdrawals(ctx context.Context, wholesalerID string) ([]model.Withdrawal, error)
}
