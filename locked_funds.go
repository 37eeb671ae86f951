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
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/internal/apierror"
	redlock "github.com/blnkfinance/escrow/internal/lock"
	"github.com/blnkfinance/escrow/model"
)

// retailerFor resolves whose locked funds the caller is acting on. Retailers act
// on their own balance, admins on the one they name.
func retailerFor(p model.Principal, retailerID string) (string, error) {
	switch {
	case p.Role == model.RoleRetailer && p.ID != "":
		if retailerID != "" && retailerID != p.ID {
			return "", apierror.NewAPIError(apierror.ErrNotAuthorized, "retailers can only access their own locked funds", nil)
		}
		return p.ID, nil
	case p.IsAdmin():
		if retailerID == "" {
			return "", apierror.NewAPIError(apierror.ErrInvalidInput, "retailer_id is required", nil)
		}
		return retailerID, nil
	}
	return "", apierror.NewAPIError(apierror.ErrNotAuthorized, "only retailers have locked funds", nil)
}

// GetLockedFunds reports the retailer's locked balance with the part already
// committed to open orders.
func (e *Escrow) GetLockedFunds(ctx context.Context, p model.Principal, retailerID string) (model.LockedFundsSummary, error) {
	ctx, span := tracer.Start(ctx, "GetLockedFunds")
	defer span.End()

	retailerID, err := retailerFor(p, retailerID)
	if err != nil {
		return model.LockedFundsSummary{}, err
	}
	lf, err := e.datasource.GetLockedFunds(ctx, retailerID)
	if err != nil {
		return model.LockedFundsSummary{}, err
	}
	if lf.Currency == "" {
		lf.Currency = e.defaultCurrency
	}
	committed, err := e.datasource.GetCommittedAmount(ctx, retailerID, "")
	if err != nil {
		return model.LockedFundsSummary{}, err
	}
	return model.NewLockedFundsSummary(lf, committed), nil
}

// AdjustLockedFunds adds capital to, or takes uncommitted capital out of, the
// retailer's locked pool and books the movement against the external account.
func (e *Escrow) AdjustLockedFunds(ctx context.Context, p model.Principal, adj model.LockedFundsAdjustment) (model.LockedFundsSummary, error) {
	ctx, span := tracer.Start(ctx, "AdjustLockedFunds")
	defer span.End()

	retailerID, err := retailerFor(p, adj.RetailerID)
	if err != nil {
		return model.LockedFundsSummary{}, err
	}
	adj.RetailerID = retailerID
	if !adj.Amount.IsPositive() {
		return model.LockedFundsSummary{}, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}
	if adj.Operation != model.AdjustAdd && adj.Operation != model.AdjustSubtract {
		return model.LockedFundsSummary{}, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("operation must be %q or %q", model.AdjustAdd, model.AdjustSubtract), nil)
	}
	if adj.Currency, err = e.settlementCurrency(adj.Currency); err != nil {
		return model.LockedFundsSummary{}, err
	}

	unlock, err := e.acquireLock(ctx, redlock.RetailerKey(retailerID))
	if err != nil {
		return model.LockedFundsSummary{}, err
	}
	defer unlock()

	now := e.now()
	from, to := model.ExternalAccount, model.RetailerAccount(retailerID)
	description := fmt.Sprintf("Locked funds added for retailer %s", retailerID)
	if adj.Operation == model.AdjustSubtract {
		from, to = to, from
		description = fmt.Sprintf("Locked funds withdrawn for retailer %s", retailerID)
	}
	meta := map[string]interface{}{"operation": string(adj.Operation)}
	if adj.Reason != "" {
		meta["reason"] = adj.Reason
	}
	entry := model.LedgerEntry{
		EntryID:           model.GenerateUUIDWithSuffix("entry"),
		Type:              model.EntryAdjustment,
		Amount:            adj.Amount,
		Currency:          adj.Currency,
		From:              from,
		To:                to,
		Description:       description,
		MerchantAccountID: e.merchantAccountID,
		MetaData:          meta,
		CreatedAt:         now,
	}

	lf, err := e.datasource.AdjustLockedFunds(ctx, adj, entry, now)
	if err != nil {
		return model.LockedFundsSummary{}, logAndRecordError(span, "failed to adjust locked funds: ", err)
	}
	logrus.WithFields(logrus.Fields{
		"retailer_id": retailerID,
		"operation":   adj.Operation,
		"amount":      adj.Amount.String(),
	}).Info("locked funds adjusted")

	committed, err := e.datasource.GetCommittedAmount(ctx, retailerID, "")
	if err != nil {
		// the adjustment is committed; report it without the committed split
		logrus.Warnf("failed to compute committed amount for retailer %s: %v", retailerID, err)
		committed = decimal.Zero
	}
	return model.NewLockedFundsSummary(lf, committed), nil
}
