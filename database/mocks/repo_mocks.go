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
package mocks

import (
	"context"
	"time"

	"github.com/blnkfinance/escrow/database"
	"github.com/blnkfinance/escrow/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

var _ database.IDataSource = (*MockDataSource)(nil)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Transaction methods

func (m *MockDataSource) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockDataSource) GetTransactionByRef(ctx context.Context, ref string) (*model.Transaction, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockDataSource) GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) UpdateTransaction(ctx context.Context, txn *model.Transaction, expected model.Status, entries ...model.LedgerEntry) error {
	args := m.Called(ctx, txn, expected, entries)
	return args.Error(0)
}

func (m *MockDataSource) GetReleasableTransactions(ctx context.Context, now time.Time, after model.Cursor, limit int) ([]*model.Transaction, error) {
	args := m.Called(ctx, now, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) ClaimFundsLockedNotification(ctx context.Context, ref string, at time.Time) (bool, error) {
	args := m.Called(ctx, ref, at)
	return args.Bool(0), args.Error(1)
}

// Ledger methods

func (m *MockDataSource) RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) GetLedgerEntries(ctx context.Context, filter model.LedgerFilter) ([]model.LedgerEntry, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.LedgerEntry), args.Error(1)
}

func (m *MockDataSource) GetEscrowBalance(ctx context.Context, merchantAccountID string) (model.EscrowBalance, error) {
	args := m.Called(ctx, merchantAccountID)
	return args.Get(0).(model.EscrowBalance), args.Error(1)
}

// Locked funds methods

func (m *MockDataSource) GetLockedFunds(ctx context.Context, retailerID string) (model.LockedFunds, error) {
	args := m.Called(ctx, retailerID)
	return args.Get(0).(model.LockedFunds), args.Error(1)
}

func (m *MockDataSource) GetCommittedAmount(ctx context.Context, retailerID, excludeRef string) (decimal.Decimal, error) {
	args := m.Called(ctx, retailerID, excludeRef)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockDataSource) FundTransaction(ctx context.Context, txn *model.Transaction, entry model.LedgerEntry) error {
	args := m.Called(ctx, txn, entry)
	return args.Error(0)
}

func (m *MockDataSource) AdjustLockedFunds(ctx context.Context, adj model.LockedFundsAdjustment, entry model.LedgerEntry, now time.Time) (model.LockedFunds, error) {
	args := m.Called(ctx, adj, entry, now)
	return args.Get(0).(model.LockedFunds), args.Error(1)
}

// Hardware methods

func (m *MockDataSource) RegisterHardwareGenerator(ctx context.Context, gen *model.HardwareGenerator) error {
	args := m.Called(ctx, gen)
	return args.Error(0)
}

func (m *MockDataSource) GetHardwareGenerator(ctx context.Context, generatorID string) (*model.HardwareGenerator, error) {
	args := m.Called(ctx, generatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HardwareGenerator), args.Error(1)
}

func (m *MockDataSource) TouchHardwareGenerator(ctx context.Context, generatorID string, at time.Time) error {
	args := m.Called(ctx, generatorID, at)
	return args.Error(0)
}

func (m *MockDataSource) GetHardwareGenerators(ctx context.Context, holderID string) ([]*model.HardwareGenerator, error) {
	args := m.Called(ctx, holderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.HardwareGenerator), args.Error(1)
}

func (m *MockDataSource) AssignHardwareGenerator(ctx context.Context, generatorID, assignedTo string) (*model.HardwareGenerator, error) {
	args := m.Called(ctx, generatorID, assignedTo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.HardwareGenerator), args.Error(1)
}

// Withdrawal methods

func (m *MockDataSource) GetWithdrawableTransactions(ctx context.Context, wholesalerID string, now time.Time) ([]*model.Transaction, error) {
	args := m.Called(ctx, wholesalerID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Transaction), args.Error(1)
}

func (m *MockDataSource) RecordWithdrawal(ctx context.Context, w *model.Withdrawal, txns []*model.Transaction, entries []model.LedgerEntry) error {
	args := m.Called(ctx, w, txns, entries)
	return args.Error(0)
}

func (m *MockDataSource) GetWithdrawals(ctx context.Context, wholesalerID string) ([]model.Withdrawal, error) {
	args := m.Called(ctx, wholesalerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Withdrawal), args.Error(1)
}
