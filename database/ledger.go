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
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

const ledgerColumns = `entry_id, transaction_ref, type, amount, currency, from_account, to_account,
	balance, description, merchant_account_id, meta_data, created_at`

// RecordLedgerEntry appends a single entry outside of any state change.
func (d Datasource) RecordLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "RecordLedgerEntry")
	defer span.End()

	return insertLedgerEntry(ctx, d.Conn, entry)
}

func insertLedgerEntry(ctx context.Context, db execer, entry *model.LedgerEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("entry")
	}

	metaDataJSON, err := nullableJSON(entry.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO escrow.ledger_entries (`+ledgerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		entry.EntryID, entry.TransactionRef, string(entry.Type), entry.Amount, entry.Currency, entry.From, entry.To,
		entry.Balance, entry.Description, entry.MerchantAccountID, metaDataJSON, entry.CreatedAt,
	)
	if err != nil {
		return dbError("Failed to record ledger entry", err)
	}
	return nil
}

// GetLedgerEntries lists entries matching filter, newest first.
func (d Datasource) GetLedgerEntries(ctx context.Context, filter model.LedgerFilter) ([]model.LedgerEntry, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetLedgerEntries")
	defer span.End()

	var conditions []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		conditions = append(conditions, strings.ReplaceAll(clause, "?", fmt.Sprintf("$%d", len(args))))
	}

	if filter.TransactionRef != "" {
		add("transaction_ref = ?", filter.TransactionRef)
	}
	if filter.MerchantAccountID != "" {
		add("merchant_account_id = ?", filter.MerchantAccountID)
	}
	if filter.Type != "" {
		add("type = ?", string(filter.Type))
	}
	if filter.Account != "" {
		add("(from_account = ? OR to_account = ?)", filter.Account)
	}
	if filter.StartDate != nil {
		add("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("created_at <= ?", *filter.EndDate)
	}

	var query strings.Builder
	query.WriteString("SELECT " + ledgerColumns + " FROM escrow.ledger_entries")
	if len(conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, filter.EffectiveLimit())
	query.WriteString(fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)))

	rows, err := d.Conn.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, dbError("Failed to retrieve ledger entries", err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		entry := model.LedgerEntry{}
		var entryType string
		var metaDataJSON []byte
		err := rows.Scan(&entry.EntryID, &entry.TransactionRef, &entryType, &entry.Amount, &entry.Currency,
			&entry.From, &entry.To, &entry.Balance, &entry.Description, &entry.MerchantAccountID, &metaDataJSON, &entry.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan ledger entry", err)
		}
		entry.Type = model.EntryType(entryType)
		if !isJSONNull(metaDataJSON) {
			if err := json.Unmarshal(metaDataJSON, &entry.MetaData); err != nil {
				return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Error occurred while iterating over ledger entries", err)
	}
	return entries, nil
}

// GetEscrowBalance folds every entry of the merchant account into the amount
// currently held in escrow. It mirrors model.BalanceFor.
func (d Datasource) GetEscrowBalance(ctx context.Context, merchantAccountID string) (model.EscrowBalance, error) {
	ctx, span := otel.Tracer("escrow.database").Start(ctx, "GetEscrowBalance")
	defer span.End()

	balance := model.EscrowBalance{MerchantAccountID: merchantAccountID}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE
				WHEN from_account = to_account THEN 0
				WHEN type IN ('deposit', 'hold') THEN amount
				WHEN type IN ('release', 'refund') THEN -amount
				ELSE 0
			END), 0), COUNT(*)
		FROM escrow.ledger_entries
		WHERE merchant_account_id = $1
	`, merchantAccountID).Scan(&balance.Balance, &balance.Entries)
	if err != nil {
		return model.EscrowBalance{}, dbError("Failed to compute escrow balance", err)
	}
	return balance, nil
}
