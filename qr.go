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
	"time"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// consumeCredential verifies presented against txn's credential and marks it
// scanned when accepted.
func consumeCredential(txn *model.Transaction, presented, caller string, now time.Time) error {
	if txn.QRCode == nil {
		return apierror.NewAPIError(apierror.ErrCredentialMismatch, "no delivery code has been issued for this transaction", nil)
	}
	switch txn.QRCode.Verify(txn.TransactionRef, presented, now) {
	case model.VerifyAccepted:
		txn.QRCode.MarkScanned(caller, now)
		return nil
	case model.VerifyAlreadyScanned:
		return apierror.NewAPIError(apierror.ErrCredentialAlreadyUsed, "delivery code has already been scanned", nil)
	case model.VerifyExpired:
		return apierror.NewAPIError(apierror.ErrCredentialExpired,
			fmt.Sprintf("delivery code expired at %s", txn.QRCode.ExpiresAt.Format(time.RFC3339)), nil)
	default:
		return apierror.NewAPIError(apierror.ErrCredentialMismatch, "delivery code does not match this transaction", nil)
	}
}

// InitiateDelivery issues the delivery code and moves a funded transaction in transit.
// When hardwareGeneratorID is set the device must be active and belong to the caller.
func (e *Escrow) InitiateDelivery(ctx context.Context, p model.Principal, ref, hardwareGeneratorID string) (*TransactionResult, error) {
	ctx, span := tracer.Start(ctx, "InitiateDelivery")
	defer span.End()

	result, err := e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleWholesaler, txn.WholesalerID) {
			return nil, notAuthorized("deliver")
		}
		if !txn.Status.Can(model.ActionInitiateDelivery) {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("transaction must be funded before delivery, it is %s", txn.Status), nil)
		}
		if hardwareGeneratorID != "" {
			if err := e.hardware.Authorize(ctx, hardwareGeneratorID, p.ID); err != nil {
				return nil, err
			}
		}
		credential, err := model.NewQRCredential(txn.TransactionRef, p.ID, hardwareGeneratorID, now)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to generate delivery code", err)
		}
		if err := apply(txn, model.ActionInitiateDelivery, now); err != nil {
			return nil, err
		}
		txn.QRCode = credential
		return nil, nil
	})
	if err != nil {
		return nil, logAndRecordError(span, "failed to initiate delivery: ", err)
	}

	txn := result.Transaction
	if txn.DeliveryAgentID != "" {
		e.emit(ctx, model.NewEvent(model.EventDeliveryAssigned, txn.TransactionRef, txn.UpdatedAt, map[string]string{
			"wholesaler_id": txn.WholesalerID,
			"expires_at":    txn.QRCode.ExpiresAt.Format(time.RFC3339),
		}, txn.DeliveryAgentID))
	}
	return result, nil
}

// ExtendQRCode pushes an unscanned code's expiry to a full window from now. Only
// a transaction still waiting on the scan can be extended.
func (e *Escrow) ExtendQRCode(ctx context.Context, p model.Principal, ref string) (*model.QRCodeView, error) {
	ctx, span := tracer.Start(ctx, "ExtendQRCode")
	defer span.End()

	result, err := e.mutate(ctx, ref, func(txn *model.Transaction, now time.Time) ([]model.LedgerEntry, error) {
		if !p.Is(model.RoleWholesaler, txn.WholesalerID) {
			return nil, notAuthorized("extend the delivery code of")
		}
		if txn.QRCode == nil {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition, "no delivery code has been issued for this transaction", nil)
		}
		if txn.QRCode.Scanned() {
			return nil, apierror.NewAPIError(apierror.ErrCredentialAlreadyUsed, "cannot extend a delivery code that has been scanned", nil)
		}
		if !txn.Status.AwaitingScan() {
			return nil, apierror.NewAPIError(apierror.ErrInvalidStateTransition,
				fmt.Sprintf("cannot extend the delivery code of a transaction that is %s", txn.Status), nil)
		}
		txn.QRCode.Extend(now)
		txn.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return qrView(result.Transaction), nil
}

// GetQRCode returns the issued code for rendering. The wholesaler, the assigned
// agent and admins may read it.
func (e *Escrow) GetQRCode(ctx context.Context, p model.Principal, ref string) (*model.QRCodeView, error) {
	ctx, span := tracer.Start(ctx, "GetQRCode")
	defer span.End()

	txn, err := e.datasource.GetTransactionByRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() && !p.Is(model.RoleWholesaler, txn.WholesalerID) && !p.Is(model.RoleDeliveryAgent, txn.DeliveryAgentID) {
		return nil, notAuthorized("view the delivery code of")
	}
	if txn.QRCode == nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("no delivery code issued for transaction '%s'", ref), nil)
	}
	return qrView(txn), nil
}

func qrView(txn *model.Transaction) *model.QRCodeView {
	return &model.QRCodeView{
		TransactionRef: txn.TransactionRef,
		Code:           txn.QRCode.Code,
		ExpiresAt:      txn.QRCode.ExpiresAt,
		ExtensionCount: txn.QRCode.ExtensionCount,
		Scanned:        txn.QRCode.Scanned(),
	}
}
