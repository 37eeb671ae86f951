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
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// completeTwo confirms a 100 and a 50 transaction an hour apart and releases both.
func completeTwo(t *testing.T, f *fixture) (*model.Transaction, *model.Transaction) {
	t.Helper()
	f.seed(150)
	first := f.confirm(t, 100)
	f.clock.Advance(time.Hour)
	second := f.confirm(t, 50)

	f.clock.Advance(HoldPeriod + time.Second)
	result := NewReleaseScheduler(f.escrow, time.Minute).RunOnce(context.Background())
	require.Equal(t, 2, result.Released)
	return first, second
}

func TestWithdrawalNotAvailableBeforeDelay(t *testing.T) {
	f := newFixture(t)
	completeTwo(t, f)

	available, err := f.escrow.GetAvailableWithdrawal(context.Background(), f.wholesaler, "")
	require.NoError(t, err)
	assert.True(t, available.Available.IsZero())
	assert.Equal(t, 0, available.Transactions)

	_, err = f.escrow.RequestWithdrawal(context.Background(), f.wholesaler, "", decimal.NewFromInt(1), "")
	assertCode(t, err, apierror.ErrInsufficientFunds)
}

func TestRequestWithdrawalAllocatesOldestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first, second := completeTwo(t, f)
	f.clock.Advance(WithdrawalDelay)

	available, err := f.escrow.GetAvailableWithdrawal(ctx, f.wholesaler, "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(available.Available))
	assert.Equal(t, 2, available.Transactions)

	bank := gofakeit.AchAccount()
	w, err := f.escrow.RequestWithdrawal(ctx, f.wholesaler, "", decimal.NewFromInt(120), bank)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(w.WithdrawalID, "wd_"))
	require.Len(t, w.Allocations, 2)
	assert.Equal(t, first.TransactionRef, w.Allocations[0].TransactionRef)
	assert.True(t, decimal.NewFromInt(100).Equal(w.Allocations[0].Amount))
	assert.Equal(t, second.TransactionRef, w.Allocations[1].TransactionRef)
	assert.True(t, decimal.NewFromInt(20).Equal(w.Allocations[1].Amount))

	entries, err := f.escrow.GetLedger(ctx, f.wholesaler, model.LedgerFilter{Type: model.EntryWithdrawal})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	balances := []string{entries[0].Balance.String(), entries[1].Balance.String()}
	assert.ElementsMatch(t, []string{"50", "30"}, balances)
	for _, e := range entries {
		assert.Equal(t, model.WholesalerAccount(f.wholesaler.ID), e.From)
		assert.Equal(t, model.ExternalAccount, e.To)
		assert.Equal(t, bank, e.MetaData["bank_account"])
	}

	stored, err := f.ds.GetTransactionByRef(ctx, second.TransactionRef)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(stored.WithdrawnAmount))
	assert.NotNil(t, stored.WithdrawnAt)

	_, err = f.escrow.RequestWithdrawal(ctx, f.wholesaler, "", decimal.NewFromInt(31), bank)
	assertCode(t, err, apierror.ErrInsufficientFunds)

	_, err = f.escrow.RequestWithdrawal(ctx, f.wholesaler, "", decimal.NewFromInt(30), bank)
	require.NoError(t, err)

	available, err = f.escrow.GetAvailableWithdrawal(ctx, f.wholesaler, "")
	require.NoError(t, err)
	assert.True(t, available.Available.IsZero())

	history, err := f.escrow.GetWithdrawals(ctx, f.wholesaler, "")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, decimal.NewFromInt(30).Equal(history[0].Amount))
}

func TestRequestWithdrawalValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.escrow.RequestWithdrawal(ctx, f.wholesaler, "", decimal.Zero, "")
	assertCode(t, err, apierror.ErrInvalidInput)

	_, err = f.escrow.RequestWithdrawal(ctx, f.retailer, f.wholesaler.ID, decimal.NewFromInt(10), "")
	assertCode(t, err, apierror.ErrNotAuthorized)

	_, err = f.escrow.RequestWithdrawal(ctx, f.wholesaler, gofakeit.UUID(), decimal.NewFromInt(10), "")
	assertCode(t, err, apierror.ErrNotAuthorized)

	_, err = f.escrow.GetAvailableWithdrawal(ctx, f.admin, "")
	assertCode(t, err, apierror.ErrInvalidInput)

	available, err := f.escrow.GetAvailableWithdrawal(ctx, f.admin, f.wholesaler.ID)
	require.NoError(t, err)
	assert.Equal(t, f.wholesaler.ID, available.WholesalerID)
}

func TestPayouts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	completeTwo(t, f)
	f.clock.Advance(WithdrawalDelay)

	_, err := f.escrow.RequestWithdrawal(ctx, f.wholesaler, "", decimal.NewFromInt(40), "")
	require.NoError(t, err)

	f.seed(400)
	f.fund(t, 70)
	f.confirm(t, 30)
	f.create(t, 500)

	pending, err := f.escrow.GetPendingPayouts(ctx, f.wholesaler, "")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	summary, err := f.escrow.GetPayoutSummary(ctx, f.wholesaler, "")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(summary.Pending), summary.Pending.String())
	assert.True(t, decimal.NewFromInt(110).Equal(summary.Available), summary.Available.String())
	assert.True(t, decimal.NewFromInt(40).Equal(summary.Withdrawn), summary.Withdrawn.String())

	_, err = f.escrow.GetPayoutSummary(ctx, f.agent, f.wholesaler.ID)
	assertCode(t, err, apierror.ErrNotAuthorized)
}

func TestAllTransactionsPagesByKeyset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const total = payoutPageSize + 5
	for i := 0; i < total; i++ {
		f.create(t, 1)
	}

	got, err := f.escrow.allTransactions(ctx, model.TransactionFilter{RetailerID: f.retailer.ID, Offset: 3})
	require.NoError(t, err)
	require.Len(t, got, total)

	seen := map[string]bool{}
	for i, txn := range got {
		assert.False(t, seen[txn.TransactionRef], "duplicate %s", txn.TransactionRef)
		seen[txn.TransactionRef] = true
		if i > 0 {
			assert.True(t, model.CreatedCursor(txn).Less(model.CreatedCursor(got[i-1])))
		}
	}
}
