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
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/blnkfinance/escrow/model"
)

// positiveAmount rejects zero and negative amounts. decimal.Decimal is a struct,
// so validation.Required cannot tell a zero amount apart from a missing one.
func positiveAmount(value interface{}) error {
	amount, ok := value.(decimal.Decimal)
	if !ok {
		return errors.New("invalid amount")
	}
	if !amount.IsPositive() {
		return errors.New("must be greater than zero")
	}
	return nil
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

var currencyRule = validation.Length(3, 3).Error("must be a 3-letter currency code")

type CreateTransaction struct {
	WholesalerID         string                 `json:"wholesaler_id"`
	DeliveryAgentID      string                 `json:"delivery_agent_id,omitempty"`
	Amount               decimal.Decimal        `json:"amount"`
	Currency             string                 `json:"currency,omitempty"`
	Description          string                 `json:"description,omitempty"`
	PaymentMethod        string                 `json:"payment_method"`
	CashCollectionMethod string                 `json:"cash_collection_method,omitempty"`
	PaymentReference     string                 `json:"payment_reference,omitempty"`
	DeliveryAddress      *model.DeliveryAddress `json:"delivery_address,omitempty"`
	MetaData             map[string]interface{} `json:"meta_data,omitempty"`
}

type FundTransaction struct {
	PaymentReference string `json:"payment_reference,omitempty"`
}

type AssignAgent struct {
	DeliveryAgentID string `json:"delivery_agent_id"`
}

type InitiateDelivery struct {
	HardwareGeneratorID string `json:"hardware_generator_id,omitempty"`
}

type ConfirmDelivery struct {
	Code string `json:"code"`
}

type FileDispute struct {
	Reason string `json:"reason"`
}

type ResolveDispute struct {
	Resolution string `json:"resolution"`
}

type AdjustLockedFunds struct {
	RetailerID string          `json:"retailer_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Operation  string          `json:"operation"`
	Reason     string          `json:"reason,omitempty"`
	Currency   string          `json:"currency,omitempty"`
}

type RequestWithdrawal struct {
	WholesalerID string          `json:"wholesaler_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	BankAccount  string          `json:"bank_account"`
}

type AppendLedgerEntry struct {
	TransactionRef string                 `json:"transaction_ref,omitempty"`
	Type           string                 `json:"type"`
	Amount         decimal.Decimal        `json:"amount"`
	Currency       string                 `json:"currency,omitempty"`
	From           string                 `json:"from"`
	To             string                 `json:"to"`
	Description    string                 `json:"description,omitempty"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

type RegisterHardwareGenerator struct {
	GeneratorID  string `json:"generator_id"`
	RegisteredBy string `json:"registered_by,omitempty"`
	AssignedTo   string `json:"assigned_to,omitempty"`
	Status       string `json:"status,omitempty"`
}

type AssignHardwareGenerator struct {
	AssignedTo string `json:"assigned_to"`
}

func (t *CreateTransaction) ValidateCreateTransaction() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.WholesalerID, validation.Required),
		validation.Field(&t.Amount, validation.By(positiveAmount)),
		validation.Field(&t.Currency, currencyRule),
		validation.Field(&t.PaymentMethod, validation.Required, validation.In(
			string(model.PaymentMethodEcocash),
			string(model.PaymentMethodBankTransfer),
			string(model.PaymentMethodCash),
			string(model.PaymentMethodCard),
		)),
		validation.Field(&t.CashCollectionMethod, validation.In(
			string(model.CashCollectionAgent),
			string(model.CashCollectionBooth),
			string(model.CashCollectionNone),
		)),
		validation.Field(&t.Description, validation.Length(0, 500)),
	)
}

func (a *AssignAgent) ValidateAssignAgent() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.DeliveryAgentID, validation.By(notBlank)),
	)
}

func (c *ConfirmDelivery) ValidateConfirmDelivery() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Code, validation.Required),
	)
}

func (d *FileDispute) ValidateFileDispute() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Reason, validation.By(notBlank), validation.Length(0, 1000)),
	)
}

func (r *ResolveDispute) ValidateResolveDispute() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Resolution, validation.By(notBlank)),
	)
}

func (a *AdjustLockedFunds) ValidateAdjustLockedFunds() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.Amount, validation.By(positiveAmount)),
		validation.Field(&a.Operation, validation.Required, validation.In(string(model.AdjustAdd), string(model.AdjustSubtract))),
		validation.Field(&a.Currency, currencyRule),
	)
}

func (w *RequestWithdrawal) ValidateRequestWithdrawal() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.Amount, validation.By(positiveAmount)),
		validation.Field(&w.BankAccount, validation.Required),
	)
}

func (e *AppendLedgerEntry) ValidateAppendLedgerEntry() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.Type, validation.Required, validation.By(func(value interface{}) error {
			_, err := model.ParseEntryType(value.(string))
			return err
		})),
		validation.Field(&e.Amount, validation.By(positiveAmount)),
		validation.Field(&e.Currency, currencyRule),
		validation.Field(&e.From, validation.Required),
		validation.Field(&e.To, validation.Required),
	)
}

func (h *AssignHardwareGenerator) ValidateAssignHardwareGenerator() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.AssignedTo, validation.By(notBlank)),
	)
}

func (h *RegisterHardwareGenerator) ValidateRegisterHardwareGenerator() error {
	return validation.ValidateStruct(h,
		validation.Field(&h.GeneratorID, validation.By(notBlank)),
		validation.Field(&h.Status, validation.In(model.HardwareStatusActive, "inactive")),
	)
}
