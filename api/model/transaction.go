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

	"github.com/wacul/ptr"

	"github.com/blnkfinance/escrow"
	"github.com/blnkfinance/escrow/model"
)

func (t *CreateTransaction) ToCreateTransactionInput() escrow.CreateTransactionInput {
	return escrow.CreateTransactionInput{
		WholesalerID:         strings.TrimSpace(t.WholesalerID),
		DeliveryAgentID:      strings.TrimSpace(t.DeliveryAgentID),
		Amount:               t.Amount,
		Currency:             strings.ToUpper(t.Currency),
		Description:          t.Description,
		PaymentMethod:        model.PaymentMethod(t.PaymentMethod),
		CashCollectionMethod: model.CashCollectionMethod(t.CashCollectionMethod),
		PaymentReference:     t.PaymentReference,
		DeliveryAddress:      t.DeliveryAddress,
		MetaData:             t.MetaData,
	}
}

func (a *AdjustLockedFunds) ToAdjustment() model.LockedFundsAdjustment {
	return model.LockedFundsAdjustment{
		RetailerID: a.RetailerID,
		Amount:     a.Amount,
		Operation:  model.AdjustmentOperation(a.Operation),
		Reason:     a.Reason,
		Currency:   strings.ToUpper(a.Currency),
	}
}

func (e *AppendLedgerEntry) ToLedgerEntry() model.LedgerEntry {
	return model.LedgerEntry{
		TransactionRef: e.TransactionRef,
		Type:           model.EntryType(e.Type),
		Amount:         e.Amount,
		Currency:       strings.ToUpper(e.Currency),
		From:           e.From,
		To:             e.To,
		Description:    e.Description,
		MetaData:       e.MetaData,
	}
}

func (h *RegisterHardwareGenerator) ToHardwareGenerator() *model.HardwareGenerator {
	return &model.HardwareGenerator{
		GeneratorID:  strings.TrimSpace(h.GeneratorID),
		RegisteredBy: h.RegisteredBy,
		AssignedTo:   h.AssignedTo,
		Status:       h.Status,
	}
}

// TransactionQuery is bound from the query string of GET /transactions.
// Status takes a comma separated list.
type TransactionQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (q TransactionQuery) ToTransactionFilter() (model.TransactionFilter, error) {
	filter := model.TransactionFilter{Limit: q.Limit, Offset: q.Offset}
	if q.Offset < 0 {
		return filter, fmt.Errorf("offset cannot be negative")
	}
	for _, s := range strings.Split(q.Status, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		status, err := model.ParseStatus(s)
		if err != nil {
			return filter, err
		}
		filter.Statuses = append(filter.Statuses, status)
	}
	return filter, nil
}

// LedgerQuery is bound from the query string of GET /ledger. Dates are RFC 3339.
type LedgerQuery struct {
	TransactionRef string `form:"transaction_ref"`
	Type           string `form:"type"`
	Account        string `form:"account"`
	StartDate      string `form:"start_date"`
	EndDate        string `form:"end_date"`
	Limit          int    `form:"limit"`
}

func parseDate(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("please format %s as 'YYYY-MM-DDTHH:MM:SS+00:00' (e.g., 2024-04-22T15:28:03+00:00)", field)
	}
	return ptr.Time(t), nil
}

func (q LedgerQuery) ToLedgerFilter() (model.LedgerFilter, error) {
	filter := model.LedgerFilter{
		TransactionRef: q.TransactionRef,
		Account:        q.Account,
		Limit:          q.Limit,
	}
	if q.Type != "" {
		entryType, err := model.ParseEntryType(q.Type)
		if err != nil {
			return filter, err
		}
		filter.Type = entryType
	}
	var err error
	if filter.StartDate, err = parseDate("start_date", q.StartDate); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseDate("end_date", q.EndDate); err != nil {
		return filter, err
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, fmt.Errorf("end_date must not be before start_date")
	}
	return filter, nil
}
