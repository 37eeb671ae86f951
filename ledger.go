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

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// AppendLedgerEntry books a manual line item, such as an external deposit or a
// fee. Only admins may write outside of a state change. The entry id is
// generated when absent and returned.
func (e *Escrow) AppendLedgerEntry(ctx context.Context, p model.Principal, entry model.LedgerEntry) (string, error) {
	ctx, span := tracer.Start(ctx, "AppendLedgerEntry")
	defer span.End()

	if !p.IsAdmin() {
		return "", apierror.NewAPIError(apierror.ErrNotAuthorized, "only administrators can append ledger entries", nil)
	}
	if _, err := model.ParseEntryType(string(entry.Type)); err != nil {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if !entry.Amount.IsPositive() {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}
	if strings.TrimSpace(entry.From) == "" || strings.TrimSpace(entry.To) == "" {
		return "", apierror.NewAPIError(apierror.ErrInvalidInput, "from and to accounts are required", nil)
	}
	if entry.MerchantAccountID == "" {
		entry.MerchantAccountID = e.merchantAccountID
	}
	if entry.Currency == "" {
		entry.Currency = e.defaultCurrency
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.now()
	}
	if err := e.datasource.RecordLedgerEntry(ctx, &entry); err != nil {
		return "", logAndRecordError(span, "failed to append ledger entry: ", err)
	}
	return entry.EntryID, nil
}

// GetTransactionLedger lists a transaction's entries, newest first.
func (e *Escrow) GetTransactionLedger(ctx context.Context, p model.Principal, ref string) ([]model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "GetTransactionLedger")
	defer span.End()

	// admins read the ledger even when the transaction record is gone
	if !p.IsAdmin() {
		if _, err := e.GetTransaction(ctx, p, ref); err != nil {
			return nil, err
		}
	}
	return e.datasource.GetLedgerEntries(ctx, model.LedgerFilter{TransactionRef: ref, Limit: model.DefaultLedgerLimit})
}

// GetLedger lists entries matching filter. Admins see every entry. Retailers
// and wholesalers see the movements of their own account, or of a transaction
// they are party to.
func (e *Escrow) GetLedger(ctx context.Context, p model.Principal, filter model.LedgerFilter) ([]model.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "GetLedger")
	defer span.End()

	if !p.IsAdmin() {
		switch {
		case filter.TransactionRef != "":
			if _, err := e.GetTransaction(ctx, p, filter.TransactionRef); err != nil {
				return nil, err
			}
		case p.Role == model.RoleRetailer && p.ID != "":
			filter.Account = model.RetailerAccount(p.ID)
		case p.Role == model.RoleWholesaler && p.ID != "":
			filter.Account = model.WholesalerAccount(p.ID)
		default:
			return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "a transaction reference is required to read the ledger", nil)
		}
	}
	return e.datasource.GetLedgerEntries(ctx, filter)
}

// GetEscrowBalance folds this instance's merchant account into the amount
// currently held in escrow.
func (e *Escrow) GetEscrowBalance(ctx context.Context, p model.Principal) (model.EscrowBalance, error) {
	ctx, span := tracer.Start(ctx, "GetEscrowBalance")
	defer span.End()

	if !p.IsAdmin() {
		return model.EscrowBalance{}, apierror.NewAPIError(apierror.ErrNotAuthorized, "only administrators can view the escrow balance", nil)
	}
	return e.datasource.GetEscrowBalance(ctx, e.merchantAccountID)
}
