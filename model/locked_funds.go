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
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LockedFunds is a retailer's pre-committed capital.
type LockedFunds struct {
	RetailerID string          `json:"retailer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Currency   string          `json:"currency"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// LockedFundsSummary reports the balance together with what is already
// committed to open orders.
type LockedFundsSummary struct {
	RetailerID string          `json:"retailer_id"`
	Balance    decimal.Decimal `json:"balance"`
	Committed  decimal.Decimal `json:"committed"`
	Available  decimal.Decimal `json:"available"`
	Currency   string          `json:"currency"`
}

// Available returns balance minus committed, floored at zero.
func Available(balance, committed decimal.Decimal) decimal.Decimal {
	a := balance.Sub(committed)
	if a.IsNegative() {
		return decimal.Zero
	}
	return a
}

// CheckCurrency reports whether amounts in currency may be drawn from or added
// to lf. A row that has never been funded accepts any currency.
func (lf LockedFunds) CheckCurrency(currency string) error {
	if lf.Currency == "" || strings.EqualFold(lf.Currency, currency) {
		return nil
	}
	return fmt.Errorf("locked funds are held in %s, not %s", lf.Currency, currency)
}

func NewLockedFundsSummary(lf LockedFunds, committed decimal.Decimal) LockedFundsSummary {
	return LockedFundsSummary{
		RetailerID: lf.RetailerID,
		Balance:    lf.Balance,
		Committed:  committed,
		Available:  Available(lf.Balance, committed),
		Currency:   lf.Currency,
	}
}

type AdjustmentOperation string

const (
	AdjustAdd      AdjustmentOperation = "add"
	AdjustSubtract AdjustmentOperation = "subtract"
)

// LockedFundsAdjustment is a request to move capital into or out of the locked pool.
type LockedFundsAdjustment struct {
	RetailerID string
	Amount     decimal.Decimal
	Operation  AdjustmentOperation
	Reason     string
	Currency   string
}

// Signed returns the adjustment as a signed delta.
func (a LockedFundsAdjustment) Signed() decimal.Decimal {
	if a.Operation == AdjustSubtract {
		return a.Amount.Neg()
	}
	return a.Amount
}
