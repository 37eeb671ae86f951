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
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalAllocation struct {
	TransactionRef string          `json:"transaction_ref"`
	Amount         decimal.Decimal `json:"amount"`
}

type Withdrawal struct {
	WithdrawalID string                 `json:"withdrawal_id"`
	WholesalerID string                 `json:"wholesaler_id"`
	Amount       decimal.Decimal        `json:"amount"`
	Currency     string                 `json:"currency"`
	BankAccount  string                 `json:"bank_account,omitempty"`
	Allocations  []WithdrawalAllocation `json:"allocations"`
	CreatedAt    time.Time              `json:"created_at"`
}

type AvailableWithdrawal struct {
	WholesalerID string          `json:"wholesaler_id"`
	Available    decimal.Decimal `json:"available"`
	Currency     string          `json:"currency"`
	Transactions int             `json:"transactions"`
}

type PayoutSummary struct {
	WholesalerID string          `json:"wholesaler_id"`
	Pending      decimal.Decimal `json:"pending"`
	Available    decimal.Decimal `json:"available"`
	Withdrawn    decimal.Decimal `json:"withdrawn"`
	Currency     string          `json:"currency"`
}

var ErrWithdrawalExceedsAvailable = errors.New("withdrawal amount exceeds available balance")

// Allocate spreads amount across txns in order, taking from each only what is
// still withdrawable at now. It mutates WithdrawnAmount and WithdrawnAt on the
// transactions it touches.
func Allocate(txns []*Transaction, amount decimal.Decimal, now time.Time) ([]WithdrawalAllocation, error) {
	if TotalWithdrawable(txns, now).LessThan(amount) {
		return nil, ErrWithdrawalExceedsAvailable
	}
	remaining := amount
	var allocations []WithdrawalAllocation
	for _, t := range txns {
		if !remaining.IsPositive() {
			break
		}
		free := t.Withdrawable(now)
		if !free.IsPositive() {
			continue
		}
		take := decimal.Min(free, remaining)
		t.WithdrawnAmount = t.WithdrawnAmount.Add(take)
		t.WithdrawnAt = timePtr(now)
		t.UpdatedAt = now
		remaining = remaining.Sub(take)
		allocations = append(allocations, WithdrawalAllocation{TransactionRef: t.TransactionRef, Amount: take})
	}
	return allocations, nil
}

func TotalWithdrawable(txns []*Transaction, now time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, t := range txns {
		total = total.Add(t.Withdrawable(now))
	}
	return total
}
