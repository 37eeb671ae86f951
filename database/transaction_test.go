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

package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

var transactionColumnNames = []string{
	"transaction_ref", "retailer_id", "wholesaler_id", "delivery_agent_id", "amount", "currency",
	"description", "status", "payment_method", "cash_collection_method", "payment_reference", "qr_code",
	"hold_release_at", "available_for_withdrawal_at", "dispute", "delivery_address", "funds_locked_notified_at",
	"withdrawn_amount", "withdrawn_at", "meta_data", "created_at", "updated_at", "funded_at", "delivery_started_at",
	"delivered_at", "confirmed_at", "completed_at", "cancelled_at", "disputed_at", "version",
}

func newTestTransaction(status model.Status) *model.Transaction {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.Transaction{
		TransactionRef:       model.GenerateTransactionRef(now),
		RetailerID:           gofakeit.UUID(),
		WholesalerID:         gofakeit.UUID(),
		Amount:               decimal.NewFromInt(100),
		Currency:             "USD",
		Description:          gofakeit.Sentence(4),
		Status:               status,
		PaymentMethod:        model.PaymentMethodEcocash,
		CashCollectionMethod: model.CashCollectionNone,
		PaymentReference:     model.GeneratePaymentReference(now),
		CreatedAt:            now,
		UpdatedAt:            now,
		MetaData:             map[string]interface{}{"channel": "app"},
	}
}

func transactionRow(t *testing.T, txn *model.Transaction) []driver.Value {
	var qrJSON, disputeJSON []byte
	var err error
	if txn.QRCode != nil {
		qrJSON, err = json.Marshal(txn.QRCode)
		require.NoError(t, err)
	}
	if txn.Dispute != nil {
		disputeJSON, err = json.Marshal(txn.Dispute)
		require.NoError(t, err)
	}
	metaDataJSON, err := json.Marshal(txn.MetaData)
	require.NoError(t, err)

	timeOrNil := func(tm *time.Time) driver.Value {
		if tm == nil {
			return nil
		}
		return *tm
	}

	return []driver.Value{
		txn.TransactionRef, txn.RetailerID, txn.WholesalerID, txn.DeliveryAgentID, txn.Amount.String(), txn.Currency,
		txn.Description, string(txn.Status), string(txn.PaymentMethod), string(txn.CashCollectionMethod), txn.PaymentReference, qrJSON,
		timeOrNil(txn.HoldReleaseAt), timeOrNil(txn.AvailableForWithdrawalAt), disputeJSON, nil, timeOrNil(txn.FundsLockedNotifiedAt),
		txn.WithdrawnAmount.String(), timeOrNil(txn.WithdrawnAt), metaDataJSON, txn.CreatedAt, txn.UpdatedAt, timeOrNil(txn.FundedAt), timeOrNil(txn.DeliveryStartedAt),
		timeOrNil(txn.DeliveredAt), timeOrNil(txn.ConfirmedAt), timeOrNil(txn.CompletedAt), timeOrNil(txn.CancelledAt), timeOrNil(txn.DisputedAt), txn.Version,
	}
}

func TestRecordTransaction_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ctx, span := otel.Tracer("transaction.database").Start(context.Background(), "TestRecordTransaction")
	defer span.End()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusPending)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escrow.transactions")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, ds.RecordTransaction(ctx, txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordTransaction_DuplicateRef(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusPending)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escrow.transactions")).
		WillReturnError(&pqUniqueViolation)

	err = ds.RecordTransaction(context.Background(), txn)
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
}

func TestGetTransactionByRef_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusInTransit)
	issued := txn.CreatedAt.Add(time.Minute)
	txn.QRCode = &model.QRCredential{Code: `{"transaction_ref":"x"}`, IssuedAt: issued, ExpiresAt: issued.Add(model.QRValidity), GeneratedBy: txn.WholesalerID}
	txn.DeliveryStartedAt = &issued
	txn.Version = 2

	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_ref = $1")).
		WithArgs(txn.TransactionRef).
		WillReturnRows(sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow(t, txn)...))

	got, err := ds.GetTransactionByRef(context.Background(), txn.TransactionRef)
	require.NoError(t, err)
	assert.Equal(t, txn.TransactionRef, got.TransactionRef)
	assert.Equal(t, model.StatusInTransit, got.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(got.Amount))
	require.NotNil(t, got.QRCode)
	assert.Equal(t, txn.QRCode.Code, got.QRCode.Code)
	assert.Nil(t, got.Dispute)
	assert.Nil(t, got.FundedAt)
	require.NotNil(t, got.DeliveryStartedAt)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "app", got.MetaData["channel"])
}

func TestGetTransactionByRef_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_ref = $1")).
		WithArgs("TXN-missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetTransactionByRef(context.Background(), "TXN-missing")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
}

func TestGetTransactionByRef_ConnectionFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_ref = $1")).
		WillReturnError(errors.New("dial tcp: connection refused"))

	_, err = ds.GetTransactionByRef(context.Background(), "TXN-1")
	assert.True(t, apierror.IsCode(err, apierror.ErrDependencyUnavailable))
}

func TestGetTransactions_BuildsScopedQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusFunded)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE wholesaler_id = $1 AND status = ANY($2) ORDER BY created_at DESC, transaction_ref DESC LIMIT $3 OFFSET $4")).
		WithArgs(txn.WholesalerID, sqlmock.AnyArg(), defaultTransactionLimit, 0).
		WillReturnRows(sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow(t, txn)...))

	got, err := ds.GetTransactions(context.Background(), model.TransactionFilter{
		WholesalerID: txn.WholesalerID,
		Statuses:     []model.Status{model.StatusFunded},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, txn.TransactionRef, got[0].TransactionRef)
}

func TestGetTransactions_ResumesAfterCursor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusFunded)
	before := model.Cursor{At: time.Now(), Ref: "TXN-9"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE retailer_id = $1 AND (created_at, transaction_ref) < ($2, $3) ORDER BY created_at DESC, transaction_ref DESC LIMIT $4 OFFSET $5")).
		WithArgs(txn.RetailerID, before.At, before.Ref, 10, 0).
		WillReturnRows(sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow(t, txn)...))

	got, err := ds.GetTransactions(context.Background(), model.TransactionFilter{
		RetailerID: txn.RetailerID,
		Limit:      10,
		Offset:     40,
		Before:     &before,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransaction_CommitsStateAndEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusOnHold)
	txn.Version = 4
	require.NoError(t, txn.Apply(model.ActionRelease, time.Now()))

	entry := model.LedgerEntry{
		TransactionRef: txn.TransactionRef, Type: model.EntryRelease, Amount: txn.Amount, Currency: "USD",
		From: model.EscrowAccount, To: model.WholesalerAccount(txn.WholesalerID), MerchantAccountID: "merchant", CreatedAt: time.Now(),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("WHERE transaction_ref = $1 AND status = $2 AND version = $3")).
		WithArgs(txn.TransactionRef, string(model.StatusOnHold), int64(4),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escrow.ledger_entries")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = ds.UpdateTransaction(context.Background(), txn, model.StatusOnHold, entry)
	require.NoError(t, err)
	assert.Equal(t, int64(5), txn.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransaction_LostRaceIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusInTransit)
	require.NoError(t, txn.Apply(model.ActionConfirmDelivery, time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE escrow.transactions")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err = ds.UpdateTransaction(context.Background(), txn, model.StatusInTransit, model.LedgerEntry{})
	assert.True(t, apierror.IsCode(err, apierror.ErrConflict))
	assert.Equal(t, int64(0), txn.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateTransaction_LedgerFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	txn := newTestTransaction(model.StatusInTransit)
	require.NoError(t, txn.Apply(model.ActionDispute, time.Now()))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE escrow.transactions")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO escrow.ledger_entries")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err = ds.UpdateTransaction(context.Background(), txn, model.StatusInTransit, model.LedgerEntry{Type: model.EntryHold})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimFundsLockedNotification(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()

	mock.ExpectExec(regexp.QuoteMeta("funds_locked_notified_at IS NULL")).
		WithArgs("TXN-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("funds_locked_notified_at IS NULL")).
		WithArgs("TXN-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := ds.ClaimFundsLockedNotification(context.Background(), "TXN-1", now)
	require.NoError(t, err)
	second, err := ds.ClaimFundsLockedNotification(context.Background(), "TXN-1", now)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestGetReleasableTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer func() { _ = db.Close() }()

	ds := Datasource{Conn: db}
	now := time.Now()
	txn := newTestTransaction(model.StatusOnHold)
	release := now.Add(-time.Minute)
	txn.HoldReleaseAt = &release

	after := model.Cursor{At: now.Add(-time.Hour), Ref: "TXN-0"}
	mock.ExpectQuery(regexp.QuoteMeta("AND (hold_release_at, transaction_ref) > ($3, $4)")).
		WithArgs(string(model.StatusOnHold), now, after.At, after.Ref, 100).
		WillReturnRows(sqlmock.NewRows(transactionColumnNames).AddRow(transactionRow(t, txn)...))

	got, err := ds.GetReleasableTransactions(context.Background(), now, after, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StatusOnHold, got[0].Status)
}
