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

package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/escrow/model"
)

func TestValidateCreateTransaction(t *testing.T) {
	valid := func() CreateTransaction {
		return CreateTransaction{
			WholesalerID:  "wholesaler-1",
			Amount:        decimal.NewFromInt(100),
			PaymentMethod: "ecocash",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*CreateTransaction)
		wantErr bool
	}{
		{name: "valid", mutate: func(*CreateTransaction) {}},
		{name: "cash booth", mutate: func(c *CreateTransaction) { c.PaymentMethod = "cash"; c.CashCollectionMethod = "booth" }},
		{name: "missing wholesaler", mutate: func(c *CreateTransaction) { c.WholesalerID = "" }, wantErr: true},
		{name: "zero amount", mutate: func(c *CreateTransaction) { c.Amount = decimal.Zero }, wantErr: true},
		{name: "negative amount", mutate: func(c *CreateTransaction) { c.Amount = decimal.NewFromInt(-1) }, wantErr: true},
		{name: "unknown payment method", mutate: func(c *CreateTransaction) { c.PaymentMethod = "paypal" }, wantErr: true},
		{name: "unknown collection", mutate: func(c *CreateTransaction) { c.CashCollectionMethod = "drone" }, wantErr: true},
		{name: "bad currency", mutate: func(c *CreateTransaction) { c.Currency = "DOLLARS" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.ValidateCreateTransaction()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToCreateTransactionInput(t *testing.T) {
	req := CreateTransaction{
		WholesalerID:  " wholesaler-1 ",
		Amount:        decimal.RequireFromString("99.95"),
		Currency:      "zwl",
		PaymentMethod: "cash",
	}
	in := req.ToCreateTransactionInput()
	assert.Equal(t, "wholesaler-1", in.WholesalerID)
	assert.Equal(t, "ZWL", in.Currency)
	assert.Equal(t, model.PaymentMethodCash, in.PaymentMethod)
	assert.True(t, decimal.RequireFromString("99.95").Equal(in.Amount))
}

func TestBlankFieldsAreRejected(t *testing.T) {
	assert.Error(t, (&AssignAgent{DeliveryAgentID: "  "}).ValidateAssignAgent())
	assert.Error(t, (&FileDispute{Reason: "\t"}).ValidateFileDispute())
	assert.Error(t, (&ResolveDispute{}).ValidateResolveDispute())
	assert.Error(t, (&ConfirmDelivery{}).ValidateConfirmDelivery())
	assert.Error(t, (&RegisterHardwareGenerator{}).ValidateRegisterHardwareGenerator())
	assert.NoError(t, (&FileDispute{Reason: "damaged goods"}).ValidateFileDispute())
}

func TestValidateAdjustLockedFunds(t *testing.T) {
	adj := AdjustLockedFunds{Amount: decimal.NewFromInt(10), Operation: "add"}
	require.NoError(t, adj.ValidateAdjustLockedFunds())
	assert.Equal(t, model.AdjustAdd, adj.ToAdjustment().Operation)

	adj.Operation = "double"
	assert.Error(t, adj.ValidateAdjustLockedFunds())
}

func TestValidateAppendLedgerEntry(t *testing.T) {
	entry := AppendLedgerEntry{Type: "deposit", Amount: decimal.NewFromInt(5), From: "external", To: "escrow"}
	require.NoError(t, entry.ValidateAppendLedgerEntry())
	assert.Equal(t, model.EntryDeposit, entry.ToLedgerEntry().Type)

	entry.Type = "gift"
	assert.Error(t, entry.ValidateAppendLedgerEntry())
}

func TestTransactionQuery(t *testing.T) {
	filter, err := TransactionQuery{Status: "funded, on_hold", Limit: 10}.ToTransactionFilter()
	require.NoError(t, err)
	assert.Equal(t, []model.Status{model.StatusFunded, model.StatusOnHold}, filter.Statuses)
	assert.Equal(t, 10, filter.Limit)

	_, err = TransactionQuery{Status: "lost"}.ToTransactionFilter()
	assert.Error(t, err)

	_, err = TransactionQuery{Offset: -1}.ToTransactionFilter()
	assert.Error(t, err)
}

func TestLedgerQuery(t *testing.T) {
	filter, err := LedgerQuery{
		Type:      "hold",
		StartDate: "2024-04-22T15:28:03+00:00",
		EndDate:   "2024-04-23T15:28:03+00:00",
	}.ToLedgerFilter()
	require.NoError(t, err)
	assert.Equal(t, model.EntryHold, filter.Type)
	require.NotNil(t, filter.StartDate)
	assert.True(t, filter.StartDate.Equal(time.Date(2024, 4, 22, 15, 28, 3, 0, time.UTC)))

	_, err = LedgerQuery{StartDate: "yesterday"}.ToLedgerFilter()
	assert.Error(t, err)

	_, err = LedgerQuery{StartDate: "2024-04-23T00:00:00Z", EndDate: "2024-04-22T00:00:00Z"}.ToLedgerFilter()
	assert.Error(t, err)

	_, err = LedgerQuery{Type: "bonus"}.ToLedgerFilter()
	assert.Error(t, err)
}
