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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

const (
	transactionCacheTTL     = 30 * time.Second
	defaultTransactionLimit = 50
	maxTransactionLimit     = 200
)

const transactionColumns = `transaction_ref, retailer_id, wholesaler_id, delivery_agent_id, amount, currency,
	description, status, payment_method, cash_collection_method, payment_reference, qr_code,
	hold_release_at, available_for_withdrawal_at, dispute, delivery_address, funds_locked_notified_at,
	withdrawn_amount, withdrawn_at, meta_data, created_at, updated_at, funded_at, delivery_started_at,
	delivered_at, confirmed_at, completed_at, cancelled_at, disputed_at, version`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func transactionCacheKey(ref string) string {
	return "escrow:transaction:" + ref
}

// nullableJSON marshals v, returning nil (SQL NULL) for nil values.
func nullableJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func isJSONNull(raw []byte) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	txn := &model.Transaction{}
	var status, paymentMethod, cashCollection string
	var qrJSON, disputeJSON, addressJSON, metaDataJSON []byte

	err := row.Scan(
		&txn.TransactionRef, &txn.RetailerID, &txn.WholesalerID, &txn.DeliveryAgentID, &txn.Amount, &txn.Currency,
		&txn.Description, &status, &paymentMethod, &cashCollection, &txn.PaymentReference, &qrJSON,
		&txn.HoldReleaseAt, &txn.AvailableForWithdrawalAt, &disputeJSON, &addressJSON, &txn.FundsLockedNotifiedAt,
		&txn.WithdrawnAmount, &txn.WithdrawnAt, &metaDataJSON, &txn.CreatedAt, &txn.UpdatedAt, &txn.FundedAt, &txn.DeliveryStartedAt,
		&txn.DeliveredAt, &txn.ConfirmedAt, &txn.CompletedAt, &txn.CancelledAt, &txn.DisputedAt, &txn.Version,
	)
	if err != nil {
		return nil, err
	}

	txn.Status = model.Status(status)
	txn.PaymentMethod = model.PaymentMethod(paymentMethod)
	txn.CashCollectionMethod = model.CashCollectionMethod(cashCollection)

	if !isJSONNull(qrJSON) {
		txn.QRCode = &model.QRCredential{}
		if err := json.Unmarshal(qrJSON, txn.QRCode); err != nil {
			return nil, err
		}
	}
	if !isJSONNull(disputeJSON) {
		txn.Dispute = &model.Dispute{}
		if err := json.Unmarshal(disputeJSON, txn.Dispute); err != nil {
			return nil, err
		}
	}
	if !isJSONNull(addressJSON) {
		txn.DeliveryAddress = &model.DeliveryAddress{}
		if err := json.Unmarshal(addressJSON, txn.DeliveryAddress); err != nil {
			return nil, err
		}
	}
	if !isJSONNull(metaDataJSON) {
		if err := json.Unmarshal(metaDataJSON, &txn.MetaData); err != nil {
			return nil, err
		}
	}
	return txn, nil
}

// RecordTransaction inserts a new escrow transaction. A duplicate reference is a conflict.
func (d Datasource) RecordTransaction(ctx context.Context, txn *model.Transaction) error {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "RecordTransaction")
	defer span.End()

	qrJSON, err := nullableJSON(txn.QRCode)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal qr code", err)
	}
	disputeJSON, err := nullableJSON(txn.Dispute)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal dispute", err)
	}
	addressJSON, err := nullableJSON(txn.DeliveryAddress)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal delivery address", err)
	}
	metaDataJSON, err := nullableJSON(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO escrow.transactions (`+transactionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
	`,
		txn.TransactionRef, txn.RetailerID, txn.WholesalerID, txn.DeliveryAgentID, txn.Amount, txn.Currency,
		txn.Description, string(txn.Status), string(txn.PaymentMethod), string(txn.CashCollectionMethod), txn.PaymentReference, qrJSON,
		txn.HoldReleaseAt, txn.AvailableForWithdrawalAt, disputeJSON, addressJSON, txn.FundsLockedNotifiedAt,
		txn.WithdrawnAmount, txn.WithdrawnAt, metaDataJSON, txn.CreatedAt, txn.UpdatedAt, txn.FundedAt, txn.DeliveryStartedAt,
		txn.DeliveredAt, txn.ConfirmedAt, txn.CompletedAt, txn.CancelledAt, txn.DisputedAt, txn.Version,
	)
	if err != nil {
		return dbError("Failed to record transaction", err)
	}
	return nil
}

// GetTransactionByRef loads a transaction, consulting the read cache first when one is configured.
func (d Datasource) GetTransactionByRef(ctx context.Context, ref string) (*model.Transaction, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetTransactionByRef")
	defer span.End()

	if d.Cache != nil {
		cached := &model.Transaction{}
		if err := d.Cache.Get(ctx, transactionCacheKey(ref), cached); err == nil && cached.TransactionRef == ref {
			return cached, nil
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow.transactions
		WHERE transaction_ref = $1
	`, ref)

	txn, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", ref), nil)
		}
		return nil, dbError("Failed to retrieve transaction", err)
	}

	if d.Cache != nil {
		if err := d.Cache.Set(ctx, transactionCacheKey(ref), txn, transactionCacheTTL); err != nil {
			logrus.Warnf("failed to cache transaction %s: %v", ref, err)
		}
	}
	return txn, nil
}

func (d Datasource) GetTransactions(ctx context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetTransactions")
	defer span.End()

	var conditions []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.RetailerID != "" {
		add("retailer_id = $%d", filter.RetailerID)
	}
	if filter.WholesalerID != "" {
		add("wholesaler_id = $%d", filter.WholesalerID)
	}
	if filter.DeliveryAgentID != "" {
		add("delivery_agent_id = $%d", filter.DeliveryAgentID)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", pq.Array(statusStrings(filter.Statuses)))
	}
	if filter.Before != nil {
		args = append(args, filter.Before.At, filter.Before.Ref)
		conditions = append(conditions, fmt.Sprintf("(created_at, transaction_ref) < ($%d, $%d)", len(args)-1, len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	offset := filter.Offset
	if offset < 0 || filter.Before != nil {
		offset = 0
	}

	var query strings.Builder
	query.WriteString("SELECT " + transactionColumns + " FROM escrow.transactions")
	if len(conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, limit, offset)
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC, transaction_ref DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := d.Conn.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, dbError("Failed to retrieve transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetReleasableTransactions returns on_hold transactions whose hold period ended at or before now,
// oldest release time first, resuming after the given position.
func (d Datasource) GetReleasableTransactions(ctx context.Context, now time.Time, after model.Cursor, limit int) ([]*model.Transaction, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetReleasableTransactions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow.transactions
		WHERE status = $1 AND hold_release_at <= $2
			AND (hold_release_at, transaction_ref) > ($3, $4)
		ORDER BY hold_release_at ASC, transaction_ref ASC
		LIMIT $5
	`, string(model.StatusOnHold), now, after.At, after.Ref, limit)
	if err != nil {
		return nil, dbError("Failed to retrieve releasable transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows *sql.Rows) ([]*model.Transaction, error) {
	transactions := []*model.Transaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan transaction", err)
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Error occurred while iterating over transactions", err)
	}
	return transactions, nil
}

// UpdateTransaction persists txn if, and only if, the stored row still has the
// expected status and txn.Version. The ledger entries are written in the same
// database transaction. On success txn.Version is advanced.
func (d Datasource) UpdateTransaction(ctx context.Context, txn *model.Transaction, expected model.Status, entries ...model.LedgerEntry) error {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "UpdateTransaction")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return dbError("Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if err := compareAndSwapTransaction(ctx, tx, txn, expected); err != nil {
		return err
	}
	for i := range entries {
		if err := insertLedgerEntry(ctx, tx, &entries[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return dbError("Failed to commit transaction", err)
	}

	txn.Version++
	d.invalidateTransaction(ctx, txn.TransactionRef)
	return nil
}

// compareAndSwapTransaction writes the mutable columns of txn. The funds-locked
// flag and withdrawal tracking have dedicated writers and are left untouched.
func compareAndSwapTransaction(ctx context.Context, tx *sql.Tx, txn *model.Transaction, expected model.Status) error {
	qrJSON, err := nullableJSON(txn.QRCode)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal qr code", err)
	}
	disputeJSON, err := nullableJSON(txn.Dispute)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal dispute", err)
	}
	metaDataJSON, err := nullableJSON(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE escrow.transactions
		SET status = $4, delivery_agent_id = $5, qr_code = $6, hold_release_at = $7, available_for_withdrawal_at = $8,
			dispute = $9, meta_data = $10, updated_at = $11, funded_at = $12, delivery_started_at = $13, delivered_at = $14,
			confirmed_at = $15, completed_at = $16, cancelled_at = $17, disputed_at = $18, version = version + 1
		WHERE transaction_ref = $1 AND status = $2 AND version = $3
	`,
		txn.TransactionRef, string(expected), txn.Version,
		string(txn.Status), txn.DeliveryAgentID, qrJSON, txn.HoldReleaseAt, txn.AvailableForWithdrawalAt,
		disputeJSON, metaDataJSON, txn.UpdatedAt, txn.FundedAt, txn.DeliveryStartedAt, txn.DeliveredAt,
		txn.ConfirmedAt, txn.CompletedAt, txn.CancelledAt, txn.DisputedAt,
	)
	if err != nil {
		return dbError("Failed to update transaction", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return dbError("Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, "transaction state changed, retry", nil)
	}
	return nil
}

// ClaimFundsLockedNotification sets the funds-locked flag if it is still unset and
// reports whether this caller set it.
func (d Datasource) ClaimFundsLockedNotification(ctx context.Context, ref string, at time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE escrow.transactions
		SET funds_locked_notified_at = $2
		WHERE transaction_ref = $1 AND funds_locked_notified_at IS NULL
	`, ref, at)
	if err != nil {
		return false, dbError("Failed to claim funds locked notification", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, dbError("Failed to get rows affected", err)
	}
	d.invalidateTransaction(ctx, ref)
	return rowsAffected == 1, nil
}

func (d Datasource) invalidateTransaction(ctx context.Context, ref string) {
	if d.Cache == nil {
		return
	}
	if err := d.Cache.Delete(ctx, transactionCacheKey(ref)); err != nil {
		logrus.Warnf("failed to invalidate cached transaction %s: %v", ref, err)
	}
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
