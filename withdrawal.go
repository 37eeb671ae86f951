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
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/internal/apierror"
	redlock "github.com/blnkfinance/escrow/internal/lock"
	"github.com/blnkfinance/escrow/model"
)

// wholesalerFor resolves whose payouts the caller is acting on.
func wholesalerFor(p model.Principal, wholesalerID string) (string, error) {
	switch {
	case p.Role == model.RoleWholesaler && p.ID != "":
		if wholesalerID != "" && wholesalerID != p.ID {
			return "", apierror.NewAPIError(apierror.ErrNotAuthorized, "wholesalers can only access their own payouts", nil)
		}
		return p.ID, nil
	case p.IsAdmin():
		if wholesalerID == "" {
			return "", apierror.NewAPIError(apierror.ErrInvalidInput, "wholesaler_id is required", nil)
		}
		return wholesalerID, nil
	}
	return "", apierror.NewAPIError(apierror.ErrNotAuthorized, "only wholesalers have payouts", nil)
}

// GetAvailableWithdrawal sums what the wholesaler can withdraw now.
func (e *Escrow) GetAvailableWithdrawal(ctx context.Context, p model.Principal, wholesalerID string) (model.AvailableWithdrawal, error) {
	ctx, span := tracer.Start(ctx, "GetAvailableWithdrawal")
	defer span.End()

	wholesalerID, err := wholesalerFor(p, wholesalerID)
	if err != nil {
		return model.AvailableWithdrawal{}, err
	}
	now := e.now()
	txns, err := e.datasource.GetWithdrawableTransactions(ctx, wholesalerID, now)
	if err != nil {
		return model.AvailableWithdrawal{}, err
	}
	return model.AvailableWithdrawal{
		WholesalerID: wholesalerID,
		Available:    model.TotalWithdrawable(txns, now),
		Currency:     e.defaultCurrency,
		Transactions: len(txns),
	}, nil
}

// RequestWithdrawal pays amount out to the wholesaler's bank account, taking it
// from the oldest withdrawable transactions first.
func (e *Escrow) RequestWithdrawal(ctx context.Context, p model.Principal, wholesalerID string, amount decimal.Decimal, bankAccount string) (*model.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "RequestWithdrawal")
	defer span.End()

	wholesalerID, err := wholesalerFor(p, wholesalerID)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}

	unlock, err := e.acquireLock(ctx, redlock.WholesalerKey(wholesalerID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := e.now()
	txns, err := e.datasource.GetWithdrawableTransactions(ctx, wholesalerID, now)
	if err != nil {
		return nil, err
	}
	available := model.TotalWithdrawable(txns, now)
	allocations, err := model.Allocate(txns, amount, now)
	if err != nil {
		if errors.Is(err, model.ErrWithdrawalExceedsAvailable) {
			return nil, apierror.NewAPIError(apierror.ErrInsufficientFunds,
				fmt.Sprintf("withdrawal of %s exceeds available balance of %s", amount.String(), available.String()), nil)
		}
		return nil, err
	}

	byRef := make(map[string]*model.Transaction, len(txns))
	for _, t := range txns {
		byRef[t.TransactionRef] = t
	}

	touched := make([]*model.Transaction, 0, len(allocations))
	entries := make([]model.LedgerEntry, 0, len(allocations))
	remaining := available
	for _, a := range allocations {
		txn := byRef[a.TransactionRef]
		touched = append(touched, txn)
		remaining = remaining.Sub(a.Amount)
		entries = append(entries, model.LedgerEntry{
			EntryID:           model.GenerateUUIDWithSuffix("entry"),
			TransactionRef:    a.TransactionRef,
			Type:              model.EntryWithdrawal,
			Amount:            a.Amount,
			Currency:          txn.Currency,
			From:              model.WholesalerAccount(wholesalerID),
			To:                model.ExternalAccount,
			Balance:           remaining,
			Description:       fmt.Sprintf("Withdrawal to bank account for transaction %s", a.TransactionRef),
			MerchantAccountID: e.merchantAccountID,
			MetaData:          map[string]interface{}{"bank_account": bankAccount},
			CreatedAt:         now,
		})
	}

	w := &model.Withdrawal{
		WithdrawalID: model.GenerateUUIDWithSuffix("wd"),
		WholesalerID: wholesalerID,
		Amount:       amount,
		Currency:     e.defaultCurrency,
		BankAccount:  bankAccount,
		Allocations:  allocations,
		CreatedAt:    now,
	}
	if err := e.datasource.RecordWithdrawal(ctx, w, touched, entries); err != nil {
		return nil, logAndRecordError(span, "failed to record withdrawal: ", err)
	}

	logrus.WithFields(logrus.Fields{
		"wholesaler_id": wholesalerID,
		"withdrawal_id": w.WithdrawalID,
		"amount":        amount.String(),
	}).Info("withdrawal recorded")
	return w, nil
}

// GetWithdrawals lists the wholesaler's past withdrawals, newest first.
func (e *Escrow) GetWithdrawals(ctx context.Context, p model.Principal, wholesalerID string) ([]model.Withdrawal, error) {
	wholesalerID, err := wholesalerFor(p, wholesalerID)
	if err != nil {
		return nil, err
	}
	return e.datasource.GetWithdrawals(ctx, wholesalerID)
}
