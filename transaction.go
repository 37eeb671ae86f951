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
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blnkfinance/escrow/internal/apierror"
	redlock "github.com/blnkfinance/escrow/internal/lock"
	"github.com/blnkfinance/escrow/internal/notification"
	"github.com/blnkfinance/escrow/model"
)

// TransactionResult is what a state-changing operation hands back: the
// transaction as persisted and the ledger entries written with it.
type TransactionResult struct {
	Transaction   *model.Transaction  `json:"transaction"`
	LedgerEntries []model.LedgerEntry `json:"ledger_entries,omitempty"`
}

// CreateTransactionInput carries the order details supplied by the retailer.
type CreateTransactionInput struct {
	WholesalerID         string
	DeliveryAgentID      string
	Amount               decimal.Decimal
	Currency             string
	Description          string
	PaymentMethod        model.PaymentMethod
	CashCollectionMethod model.CashCollectionMethod
	PaymentReference     string
	DeliveryAddress      *model.DeliveryAddress
	MetaData             map[string]interface{}
}

// mutation runs against a freshly loaded transaction. It must check the
// caller, move the transaction and return the ledger entries to write with it.
type mutation func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error)

func logAndRecordError(span trace.Span, msg string, err error) error {
	span.RecordError(err)
	logrus.Error(msg, err)
	return err
}

func invalidTransition(err error) error {
	return apierror.NewAPIError(apierror.ErrInvalidStateTransition, err.Error(), nil)
}

func notAuthorized(action string) error {
	return apierror.NewAPIError(apierror.ErrNotAuthorized, fmt.Sprintf("not authorized to %s this transaction", action), nil)
}

// apply moves txn through a, translating an illegal move into the API error.
func apply(txn *model.Transaction, a model.Action, now time.Time) error {
	if err := txn.Apply(a, now); err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			return invalidTransition(err)
		}
		return err
	}
	return nil
}

func (e *Escrow) newEntry(txn *model.Transaction, kind model.EntryType, from, to string, balance decimal.Decimal, description string, now time.Time, meta map[string]interface{}) model.LedgerEntry {
	return model.LedgerEntry{
		EntryID:           model.GenerateUUIDWithSuffix("entry"),
		TransactionRef:    txn.TransactionRef,
		Type:              kind,
		Amount:            txn.Amount,
		Currency:          txn.Currency,
		From:              from,
		To:                to,
		Balance:           balance,
		Description:       description,
		MerchantAccountID: e.merchantAccountID,
		MetaData:          meta,
		CreatedAt:         now,
	}
}

// mutate serialises writers of ref, loads the transaction, runs fn and writes
// the result with a compare-and-swap on the status and version it was loaded at.
func (e *Escrow) mutate(ctx context.Context, ref string, fn mutation) (*TransactionResult, error) {
	unlock, err := e.acquireLock(ctx, redlock.TransactionKey(ref))
	if err != nil {
		return nil, err
	}
	defer unlock()

	txn, err := e.datasource.GetTransactionByRef(ctx, ref)
	if err != nil {
		return nil, err
	}

	now := e.now()
	expected := txn.Status
	entries, err := fn(txn, now)
	if err != nil {
		return nil, err
	}
	if err := e.datasource.UpdateTransaction(ctx, txn, expected, entries...); err != nil {
		return nil, err
	}
	return &TransactionResult{Transaction: txn, LedgerEntries: entries}, nil
}

// emit hands event to the notifier. Delivery is best effort and never fails the
// operation that produced it.
func (e *Escrow) emit(ctx context.Context, event model.Event) {
	if err := e.notifier.Notify(ctx, event); err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_ref": event.TransactionRef,
			"event":           event.Type,
		}).Errorf("failed to emit event: %v", err)
	}
}

// CreateTransaction opens a pending order for the calling retailer. No funds move.
func (e *Escrow) CreateTransaction(ctx context.Context, p model.Principal, in CreateTransactionInput) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "CreateTransaction")
	defer span.End()

	if p.Role != model.RoleRetailer || p.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "only retailers can create transactions", nil)
	}
	if strings.TrimSpace(in.WholesalerID) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "wholesaler_id is required", nil)
	}
	if !in.Amount.IsPositive() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "amount must be greater than zero", nil)
	}
	switch in.PaymentMethod {
	case model.PaymentMethodEcocash, model.PaymentMethodBankTransfer, model.PaymentMethodCash, model.PaymentMethodCard:
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported payment method %q", in.PaymentMethod), nil)
	}

	currency, err := e.settlementCurrency(in.Currency)
	if err != nil {
		return nil, err
	}

	now := e.now()
	txn := &model.Transaction{
		TransactionRef:       model.GenerateTransactionRef(now),
		RetailerID:           p.ID,
		WholesalerID:         in.WholesalerID,
		DeliveryAgentID:      in.DeliveryAgentID,
		Amount:               in.Amount,
		Currency:             currency,
		Description:          in.Description,
		Status:               model.StatusPending,
		PaymentMethod:        in.PaymentMethod,
		CashCollectionMethod: model.NormalizeCashCollection(in.PaymentMethod, in.CashCollectionMethod),
		PaymentReference:     in.PaymentReference,
		DeliveryAddress:      in.DeliveryAddress,
		MetaData:             in.MetaData,
		WithdrawnAmount:      decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	span.SetAttributes(attribute.String("transaction.ref", txn.TransactionRef))

	if err := e.datasource.RecordTransaction(ctx, txn); err != nil {
		return nil, logAndRecordError(span, "failed to record transaction: ", err)
	}
	logrus.WithFields(logrus.Fields{"transaction_ref": txn.TransactionRef, "retailer_id": p.ID}).Info("transaction created")
	return txn, nil
}

// FundTransaction moves a pending transaction to funded, holding its amount in
// escrow out of the retailer's locked funds.
func (e *Escrow) FundTransaction(ctx context.Context, p model.Principal, ref, paymentReference string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "FundTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref))

	unlock, err := e.acquireLock(ctx, redlock.TransactionKey(ref))
	if err != nil {
		return nil, err
	}
	defer unlock()

	txn, err := e.datasource.GetTransactionByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !p.Is(model.RoleRetailer, txn.RetailerID) {
		return nil, notAuthorized("fund")
	}

	unlockRetailer, err := e.acquireLock(ctx, redlock.RetailerKey(txn.RetailerID))
	if err != nil {
		return nil, err
	}
	defer unlockRetailer()

	now := e.now()
	if err := apply(txn, model.ActionFund, now); err != nil {
		return nil, err
	}
	if paymentReference != "" {
		txn.PaymentReference = paymentReference
	}
	if txn.PaymentReference == "" {
		txn.PaymentReference = model.GeneratePaymentReference(now)
	}

	entry := e.newEntry(txn, model.EntryHold, model.RetailerAccount(txn.RetailerID), model.EscrowAccount, txn.Amount,
		fmt.Sprintf("Funds held in escrow for transaction %s via %s", txn.TransactionRef, txn.PaymentMethod), now, nil)
	if err := e.datasource.FundTransaction(ctx, txn, entry); err != nil {
		return nil, logAndRecordError(span, "failed to fund transaction: ", err)
	}

	e.notifyFundsLocked(ctx, txn, now)
	return &TransactionResult{Transaction: txn, LedgerEntries: []model.LedgerEntry{entry}}, nil
}

// notifyFundsLocked emits funds_locked at most once per transaction. The flag is
// claimed before the event goes out.
func (e *Escrow) notifyFundsLocked(ctx context.Context, txn *model.Transaction, now time.Time) {
	claimed, err := e.datasource.ClaimFundsLockedNotification(ctx, txn.TransactionRef, now)
	if err != nil {
		notification.AlertPartialCompletion(txn.TransactionRef, "fund", err)
		return
	}
	if !claimed {
		return
	}
	txn.FundsLockedNotifiedAt = &now
	e.emit(ctx, model.NewEvent(model.EventFundsLocked, txn.TransactionRef, now, map[string]string{
		"amount":      txn.Amount.String(),
		"currency":    txn.Currency,
		"retailer_id": txn.RetailerID,
	}, txn.WholesalerID))
}

// CancelTransaction closes a pending transaction on behalf of its retailer.
func (e *Escrow) CancelTransaction(ctx context.Context, p model.Principal, ref string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "CancelTransaction")
	defer span.End()

	return e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleRetailer, txn.RetailerID) {
			return nil, notAuthorized("cancel")
		}
		return nil, apply(txn, model.ActionCancel, now)
	})
}

// AssignDeliveryAgent sets the agent carrying the order. Allowed until delivery starts.
func (e *Escrow) AssignDeliveryAgent(ctx context.Context, p model.Principal, ref, agentID string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "AssignDeliveryAgent")
	defer span.End()

	if strings.TrimSpace(agentID) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "delivery_agent_id is required", nil)
	}
	return e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleWholesaler, txn.WholesalerID) {
			return nil, notAuthorized("assign an agent to")
		}
		if txn.Status != model.StatusPending && txn.Status != model.StatusFunded {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("cannot assign a delivery agent to a transaction that is %s", txn.Status), nil)
		}
		txn.DeliveryAgentID = agentID
		txn.UpdatedAt = now
		return nil, nil
	})
}

// MarkDelivered records the physical handoff ahead of the retailer's scan.
// The assigned agent or the wholesaler may call it.
func (e *Escrow) MarkDelivered(ctx context.Context, p model.Principal, ref string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "MarkDelivered")
	defer span.End()

	return e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleDeliveryAgent, txn.DeliveryAgentID) && !p.Is(model.RoleWholesaler, txn.WholesalerID) {
			return nil, notAuthorized("mark delivered")
		}
		return nil, apply(txn, model.ActionMarkDelivered, now)
	})
}

// ConfirmDelivery verifies the presented code and starts the hold period.
func (e *Escrow) ConfirmDelivery(ctx context.Context, p model.Principal, ref, presentedCode string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "ConfirmDelivery")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.ref", ref))

	result, err := e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleRetailer, txn.RetailerID) {
			return nil, notAuthorized("confirm delivery of")
		}
		if txn.QRCode != nil && txn.QRCode.Scanned() {
			return nil, apierror.NewAPIError(apierror.ErrCredentialAlreadyUsed, "delivery code has already been scanned", nil)
		}
		if !txn.Status.Can(model.ActionConfirmDelivery) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("cannot confirm delivery of a transaction that is %s", txn.Status), nil)
		}
		if err := consumeCredential(txn, presentedCode, p.ID, now); err != nil {
			return nil, err
		}
		if err := apply(txn, model.ActionConfirmDelivery, now); err != nil {
			return nil, err
		}
		holdReleaseAt := now.Add(HoldPeriod)
		availableAt := now.Add(WithdrawalDelay)
		txn.HoldReleaseAt = &holdReleaseAt
		txn.AvailableForWithdrawalAt = &availableAt

		entry := e.newEntry(txn, model.EntryHold, model.EscrowAccount, model.EscrowAccount, txn.Amount,
			fmt.Sprintf("Delivery confirmed for transaction %s, funds on hold until %s", txn.TransactionRef, holdReleaseAt.Format(time.RFC3339)),
			now, map[string]interface{}{"hold_release_at": holdReleaseAt.Format(time.RFC3339), "reason": "delivery_confirmed"})
		return []model.LedgerEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	txn := result.Transaction
	e.emit(ctx, model.NewEvent(model.EventQRScanned, txn.TransactionRef, txn.UpdatedAt, map[string]string{
		"amount":          txn.Amount.String(),
		"hold_release_at": txn.HoldReleaseAt.Format(time.RFC3339),
	}, txn.WholesalerID, txn.DeliveryAgentID))

	if e.queue != nil {
		if err := e.queue.ScheduleRelease(ctx, txn.TransactionRef, *txn.HoldReleaseAt); err != nil {
			// the sweep still picks the transaction up
			notification.AlertPartialCompletion(txn.TransactionRef, "schedule release", err)
		}
	}
	return result, nil
}

// FileDispute freezes the transaction's funds until resolved by hand.
func (e *Escrow) FileDispute(ctx context.Context, p model.Principal, ref, reason string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "FileDispute")
	defer span.End()

	if strings.TrimSpace(reason) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "a dispute reason is required", nil)
	}

	result, err := e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleRetailer, txn.RetailerID) {
			return nil, notAuthorized("dispute")
		}
		if txn.HasDispute() {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition, "a dispute has already been filed for this transaction", nil)
		}
		if err := apply(txn, model.ActionDispute, now); err != nil {
			return nil, err
		}
		txn.Dispute = &model.Dispute{Reason: reason, FiledBy: p.ID, FiledAt: now}

		entry := e.newEntry(txn, model.EntryHold, model.EscrowAccount, model.EscrowAccount, txn.Amount,
			fmt.Sprintf("Funds frozen by dispute on transaction %s", txn.TransactionRef),
			now, map[string]interface{}{"dispute_reason": reason, "reason": "dispute_filed"})
		return []model.LedgerEntry{entry}, nil
	})
	if err != nil {
		return nil, err
	}

	txn := result.Transaction
	e.emit(ctx, model.NewEvent(model.EventDisputeFiled, txn.TransactionRef, txn.UpdatedAt, map[string]string{
		"reason": reason,
	}, txn.WholesalerID))
	return result, nil
}

// ResolveDispute records an administrator's resolution. Funds stay frozen and
// the transaction stays disputed; any money movement happens outside the system.
func (e *Escrow) ResolveDispute(ctx context.Context, p model.Principal, ref, resolution string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "ResolveDispute")
	defer span.End()

	if !p.IsAdmin() {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "only administrators can resolve disputes", nil)
	}
	if strings.TrimSpace(resolution) == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "a resolution is required", nil)
	}
	return e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !txn.HasDispute() {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition, "no dispute has been filed for this transaction", nil)
		}
		if txn.Dispute.ResolvedAt != nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition, "dispute has already been resolved", nil)
		}
		txn.Dispute.Resolution = resolution
		txn.Dispute.ResolvedAt = &now
		txn.UpdatedAt = now
		return nil, nil
	})
}

// GetTransaction returns the transaction if the caller is one of its parties or an admin.
func (e *Escrow) GetTransaction(ctx context.Context, p model.Principal, ref string) (*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "GetTransaction")
	defer span.End()

	txn, err := e.datasource.GetTransactionByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.IsPartyTo(txn) {
		return nil, notAuthorized("view")
	}
	return txn, nil
}

// ListTransactions returns the caller's transactions, or every transaction for an admin.
func (e *Escrow) ListTransactions(ctx context.Context, p model.Principal, filter model.TransactionFilter) ([]*model.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ListTransactions")
	defer span.End()

	if !p.Role.Valid() || p.ID == "" {
		return nil, apierror.NewAPIError(apierror.ErrNotAuthorized, "unknown caller", nil)
	}
	return e.datasource.GetTransactions(ctx, filter.ScopeTo(p))
}

// GetDispute returns the dispute record of a transaction.
func (e *Escrow) GetDispute(ctx context.Context, p model.Principal, ref string) (*model.Dispute, error) {
	txn, err := e.GetTransaction(ctx, p, ref)
	if err != nil {
		return nil, err
	}
	if !txn.HasDispute() {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("no dispute filed for transaction '%s'", ref), nil)
	}
	return txn.Dispute, nil
}
