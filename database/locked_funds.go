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
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetLockedFunds returns the retailer's locked balance. A retailer that never
// locked anything has a zero balance.
func (d Datasource) GetLockedFunds(ctx context.Context, retailerID string) (model.LockedFunds, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetLockedFunds")
	defer span.End()

	lf := model.LockedFunds{RetailerID: retailerID, Balance: decimal.Zero}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT balance, currency, updated_at
		FROM escrow.locked_funds
		WHERE retailer_id = $1
	`, retailerID).Scan(&lf.Balance, &lf.Currency, &lf.UpdatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.LockedFunds{}, dbError("Failed to retrieve locked funds", err)
	}
	return lf, nil
}

// GetCommittedAmount sums the retailer's transactions in committed states,
// leaving out excludeRef when set.
func (d Datasource) GetCommittedAmount(ctx context.Context, retailerID, excludeRef string) (decimal.Decimal, error) {
	return committedAmount(ctx, d.Conn, retailerID, excludeRef)
}

func committedAmount(ctx context.Context, q querier, retailerID, excludeRef string) (decimal.Decimal, error) {
	var committed decimal.Decimal
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM escrow.transactions
		WHERE retailer_id = $1 AND status = ANY($2) AND transaction_ref <> $3
	`, retailerID, pq.Array(statusStrings(model.CommittedStatuses)), excludeRef).Scan(&committed)
	if err != nil {
		return decimal.Zero, dbError("Failed to compute committed amount", err)
	}
	return committed, nil
}

// lockRetailerRow reads the retailer's balance under a row lock held until the
// surrounding transaction ends.
func lockRetailerRow(ctx context.Context, tx *sql.Tx, retailerID string) (decimal.Decimal, string, error) {
	var balance decimal.Decimal
	var currency string
	err := tx.QueryRowContext(ctx, `
		SELECT balance, currency
		FROM escrow.locked_funds
		WHERE retailer_id = $1
		FOR UPDATE
	`, retailerID).Scan(&balance, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, "", nil
	}
	if err != nil {
		return decimal.Zero, "", dbError("Failed to lock retailer balance", err)
	}
	return balance, currency, nil
}

// FundTransaction checks the retailer's available balance and moves txn from
// pending to funded together with its hold entry. The availability check and
// the write happen under the retailer's row lock.
func (d Datasource) FundTransaction(ctx context.Context, txn *model.Transaction, entry model.LedgerEntry) error {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "FundTransaction")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return dbError("Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	balance, currency, err := lockRetailerRow(ctx, tx, txn.RetailerID)
	if err != nil {
		return err
	}
	if err := (model.LockedFunds{Currency: currency}).CheckCurrency(txn.Currency); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	committed, err := committedAmount(ctx, tx, txn.RetailerID, txn.TransactionRef)
	if err != nil {
		return err
	}
	available := model.Available(balance, committed)
	if available.LessThan(txn.Amount) {
		return apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("insufficient locked funds: available %s, required %s", available.String(), txn.Amount.String()), nil)
	}

	if err := compareAndSwapTransaction(ctx, tx, txn, model.StatusPending); err != nil {
		return err
	}
	if err := insertLedgerEntry(ctx, tx, &entry); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbError("Failed to commit transaction", err)
	}

	txn.Version++
	d.invalidateTransaction(ctx, txn.TransactionRef)
	return nil
}

// AdjustLockedFunds applies adj to the retailer's balance and appends entry with
// the resulting balance as its snapshot. A subtraction may only take what is not
// committed to open orders.
func (d Datasource) AdjustLockedFunds(ctx context.Context, adj model.LockedFundsAdjustment, entry model.LedgerEntry, now time.Time) (model.LockedFunds, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "AdjustLockedFunds")
	defer span.End()

	tx, err := d.Conn.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelDefault})
	if err != nil {
		return model.LockedFunds{}, dbError("Failed to begin transaction", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escrow.locked_funds (retailer_id, balance, currency, updated_at)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (retailer_id) DO NOTHING
	`, adj.RetailerID, adj.Currency, now)
	if err != nil {
		return model.LockedFunds{}, dbError("Failed to initialise locked funds", err)
	}

	balance, currency, err := lockRetailerRow(ctx, tx, adj.RetailerID)
	if err != nil {
		return model.LockedFunds{}, err
	}
	if err := (model.LockedFunds{Currency: currency}).CheckCurrency(adj.Currency); err != nil {
		return model.LockedFunds{}, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}

	if adj.Operation == model.AdjustSubtract {
		committed, err := committedAmount(ctx, tx, adj.RetailerID, "")
		if err != nil {
			return model.LockedFunds{}, err
		}
		available := model.Available(balance, committed)
		if available.LessThan(adj.Amount) {
			return model.LockedFunds{}, apierror.NewAPIError(apierror.ErrInsufficientFunds,
				fmt.Sprintf("cannot withdraw %s from locked funds: only %s is uncommitted", adj.Amount.String(), available.String()), nil)
		}
	}

	newBalance := balance.Add(adj.Signed())
	_, err = tx.ExecContext(ctx, `
		UPDATE escrow.locked_funds
		SET balance = $2, updated_at = $3
		WHERE retailer_id = $1
	`, adj.RetailerID, newBalance, now)
	if err != nil {
		return model.LockedFunds{}, dbError("Failed to update locked funds", err)
	}

	entry.Balance = newBalance
	if err := insertLedgerEntry(ctx, tx, &entry); err != nil {
		return model.LockedFunds{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.LockedFunds{}, dbError("Failed to commit transaction", err)
	}

	return model.LockedFunds{RetailerID: adj.RetailerID, Balance: newBalance, Currency: currency, UpdatedAt: now}, nil
}
