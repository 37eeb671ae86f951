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
	"time"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// GetWithdrawableTransactions returns the wholesaler's completed transactions that
// still carry an unwithdrawn amount and whose availability time has passed, oldest first.
func (d Datasource) GetWithdrawableTransactions(ctx context.Context, wholesalerID string, now time.Time) ([]*model.Transaction, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetWithdrawableTransactions")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM escrow.transactions
		WHERE wholesaler_id = $1 AND status = $2
			AND available_for_withdrawal_at <= $3
			AND withdrawn_amount < amount
		ORDER BY available_for_withdrawal_at ASC, created_at ASC
	`, wholesalerID, string(model.StatusCompleted), now)
	if err != nil {
		return nil, dbError("Failed to retrieve withdrawable transactions", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// RecordWithdrawal stores w, the withdrawal progress of every allocated
// transaction and the matching ledger entries in one database transaction.
// Each transaction row is guarded by its version.
func (d Datasource) RecordWithdrawal(ctx context.Context, w *model.Withdrawal, txns []*model.Transaction, entries []model.LedgerEntry) error {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "RecordWithdrawal")
	defer span.End()

	allocationsJSON, err := json.Marshal(w.Allocations)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal allocations", err)
	}

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return dbError("Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	for _, txn := range txns {
		result, err := tx.ExecContext(ctx, `
			UPDATE escrow.transactions
			SET withdrawn_amount = $3, withdrawn_at = $4, updated_at = $5, version = version + 1
			WHERE transaction_ref = $1 AND version = $2
		`, txn.TransactionRef, txn.Version, txn.WithdrawnAmount, txn.WithdrawnAt, txn.UpdatedAt)
		if err != nil {
			return dbError("Failed to update withdrawn amount", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return dbError("Failed to get rows affected", err)
		}
		if rowsAffected == 0 {
			return apierror.NewAPIError(apierror.ErrConflict, "transaction state changed, retry", nil)
		}
	}

	for i := range entries {
		if err := insertLedgerEntry(ctx, tx, &entries[i]); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow.withdrawals (withdrawal_id, wholesaler_id, amount, currency, bank_account, allocations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, w.WithdrawalID, w.WholesalerID, w.Amount, w.Currency, w.BankAccount, allocationsJSON, w.CreatedAt)
	if err != nil {
		return dbError("Failed to record withdrawal", err)
	}

	if err := tx.Commit(); err != nil {
		return dbError("Failed to commit transaction", err)
	}

	for _, txn := range txns {
		txn.Version++
		d.invalidateTransaction(ctx, txn.TransactionRef)
	}
	return nil
}

func (d Datasource) GetWithdrawals(ctx context.Context, wholesalerID string) ([]model.Withdrawal, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT withdrawal_id, wholesaler_id, amount, currency, bank_account, allocations, created_at
		FROM escrow.withdrawals
		WHERE wholesaler_id = $1
		ORDER BY created_at DESC
	`, wholesalerID)
	if err != nil {
		return nil, dbError("Failed to retrieve withdrawals", err)
	}
	defer rows.Close()

	withdrawals := []model.Withdrawal{}
	for rows.Next() {
		w := model.Withdrawal{}
		var allocationsJSON []byte
		if err := rows.Scan(&w.WithdrawalID, &w.WholesalerID, &w.Amount, &w.Currency, &w.BankAccount, &allocationsJSON, &w.CreatedAt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan withdrawal", err)
		}
		if !isJSONNull(allocationsJSON) {
			if err := json.Unmarshal(allocationsJSON, &w.Allocations); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal allocations", err)
			}
		}
		withdrawals = append(withdrawals, w)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Error occurred while iterating over withdrawals", err)
	}
	return withdrawals, nil
}
