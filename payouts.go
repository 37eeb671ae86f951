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

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/escrow/model"
)

const payoutPageSize = 200

// allTransactions pages through every transaction matching filter, resuming
// each page after the last row seen so concurrent inserts cannot shift it.
func (e *Escrow) allTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	var out []*model.Transaction
	filter.Limit = payoutPageSize
	filter.Offset = 0
	filter.Before = nil
	for {
		page, err := e.datasource.GetTransactions(ctx, filter)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < payoutPageSize {
			return out, nil
		}
		last := model.CreatedCursor(page[len(page)-1])
		filter.Before = &last
	}
}

// GetPendingPayouts lists the wholesaler's transactions whose funds are held
// but not yet released.
func (e *Escrow) GetPendingPayouts(ctx context.Context, p model.Principal, wholesalerID string) ([]*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetPendingPayouts")
	defer span.End()

	wholesalerID, err := wholesalerFor(p, wholesalerID)
	if err != nil {
		return nil, err
	}
	return e.allTransactions(ctx, model.TransactionFilter{WholesalerID: wholesalerID, Statuses: model.PendingPayoutStatuses})
}

// GetPayoutSummary totals what the wholesaler is owed, can withdraw and has withdrawn.
func (e *Escrow) GetPayoutSummary(ctx context.Context, p model.Principal, wholesalerID string) (model.PayoutSummary, error) {
	ctx, span := tracer.Start(ctx, "GetPayoutSummary")
	defer span.End()

	wholesalerID, err := wholesalerFor(p, wholesalerID)
	if err != nil {
		return model.PayoutSummary{}, err
	}

	pending, err := e.allTransactions(ctx, model.TransactionFilter{WholesalerID: wholesalerID, Statuses: model.PendingPayoutStatuses})
	if err != nil {
		return model.PayoutSummary{}, err
	}
	now := e.now()
	withdrawable, err := e.datasource.GetWithdrawableTransactions(ctx, wholesalerID, now)
	if err != nil {
		return model.PayoutSummary{}, err
	}
	withdrawals, err := e.datasource.GetWithdrawals(ctx, wholesalerID)
	if err != nil {
		return model.PayoutSummary{}, err
	}

	summary := model.PayoutSummary{
		WholesalerID: wholesalerID,
		Pending:      decimal.Zero,
		Available:    model.TotalWithdrawable(withdrawable, now),
		Withdrawn:    decimal.Zero,
		Currency:     e.defaultCurrency,
	}
	for _, t := range pending {
		summary.Pending = summary.Pending.Add(t.Amount)
	}
	for _, w := range withdrawals {
		summary.Withdrawn = summary.Withdrawn.Add(w.Amount)
	}
	return summary, nil
}
