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
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryHold       EntryType = "hold"
	EntryRelease    EntryType = "release"
	EntryRefund     EntryType = "refund"
	EntryFee        EntryType = "fee"
	EntryAdjustment EntryType = "adjustment"
	EntryWithdrawal EntryType = "withdrawal"
)

var entryTypes = []EntryType{EntryDeposit, EntryHold, EntryRelease, EntryRefund, EntryFee, EntryAdjustment, EntryWithdrawal}

func ParseEntryType(s string) (EntryType, error) {
	for _, t := range entryTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown ledger entry type %q", s)
}

// Logical ledger accounts.
const (
	EscrowAccount   = "escrow"
	ExternalAccount = "external"
)

func RetailerAccount(id string) string {
	return "retailer-" + id
}

func WholesalerAccount(id string) string {
	return "wholesaler-" + id
}

// LedgerEntry is an immutable record of one monetary movement between logical accounts.
// Amount is always a positive magnitude. Balance is the snapshot the writer
// computed for the affected account at the time of the movement.
type LedgerEntry struct {
	EntryID           string                 `json:"entry_id"`
	TransactionRef    string                 `json:"transaction_ref"`
	Type              EntryType              `json:"type"`
	Amount            decimal.Decimal        `json:"amount"`
	Currency          string                 `json:"currency"`
	From              string                 `json:"from"`
	To                string                 `json:"to"`
	Balance           decimal.Decimal        `json:"balance"`
	Description       string                 `json:"description,omitempty"`
	MerchantAccountID string                 `json:"merchant_account_id"`
	MetaData          map[string]interface{} `json:"meta_data,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
}

// EscrowDelta is the entry's contribution to funds held in escrow: positive for
// deposits and holds, negative for releases and refunds, zero for informational
// kinds. Entries that move nothing (From == To) contribute zero.
func (e LedgerEntry) EscrowDelta() decimal.Decimal {
	if e.From == e.To {
		return decimal.Zero
	}
	switch e.Type {
	case EntryDeposit, EntryHold:
		return e.Amount
	case EntryRelease, EntryRefund:
		return e.Amount.Neg()
	}
	return decimal.Zero
}

// BalanceFor folds entries into the amount currently held in escrow.
func BalanceFor(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.EscrowDelta())
	}
	return total
}

// LedgerFilter narrows ledger reads. Zero values are ignored.
type LedgerFilter struct {
	TransactionRef    string
	MerchantAccountID string
	Type              EntryType
	Account           string
	StartDate         *time.Time
	EndDate           *time.Time
	Limit             int
}

// DefaultLedgerLimit caps ledger listings when no limit is given.
const DefaultLedgerLimit = 100

func (f LedgerFilter) EffectiveLimit() int {
	if f.Limit <= 0 || f.Limit > DefaultLedgerLimit {
		return DefaultLedgerLimit
	}
	return f.Limit
}

// EscrowBalance is the result of folding a merchant account's ledger.
type EscrowBalance struct {
	MerchantAccountID string          `json:"merchant_account_id"`
	Balance           decimal.Decimal `json:"balance"`
	Entries           int             `json:"entries"`
}
