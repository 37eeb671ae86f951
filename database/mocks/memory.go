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

package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/blnkfinance/escrow/database"
	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

var _ database.IDataSource = (*MemoryDataSource)(nil)

// MemoryDataSource is an in-process implementation of database.IDataSource with
// the same compare-and-swap and atomicity rules as the Postgres store.
type MemoryDataSource struct {
	mu           sync.Mutex
	unavailable  bool
	transactions map[string]*model.Transaction
	entries      []model.LedgerEntry
	lockedFunds  map[string]model.LockedFunds
	hardware     map[string]*model.HardwareGenerator
	withdrawals  []model.Withdrawal
}

func NewMemoryDataSource() *MemoryDataSource {
	return &MemoryDataSource{
		transactions: map[string]*model.Transaction{},
		lockedFunds:  map[string]model.LockedFunds{},
		hardware:     map[string]*model.HardwareGenerator{},
	}
}

// SetUnavailable makes every call fail as if the database were unreachable.
func (m *MemoryDataSource) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = down
}

// SeedLockedFunds sets a retailer's locked balance directly.
func (m *MemoryDataSource) SeedLockedFunds(retailerID string, balance decimal.Decimal, currency string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockedFunds[retailerID] = model.LockedFunds{RetailerID: retailerID, Balance: balance, Currency: currency, UpdatedAt: time.Now()}
}

// Entries returns every stored ledger entry in insertion order.
func (m *MemoryDataSource) Entries() []model.LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.LedgerEntry(nil), m.entries...)
}

func (m *MemoryDataSource) down() error {
	if m.unavailable {
		return apierror.NewAPIError(apierror.ErrDependencyUnavailable, "database is unreachable", nil)
	}
	return nil
}

func cloneTransaction(t *model.Transaction) *model.Transaction {
	c := *t
	if t.QRCode != nil {
		qr := *t.QRCode
		c.QRCode = &qr
	}
	if t.Dispute != nil {
		d := *t.Dispute
		c.Dispute = &d
	}
	if t.DeliveryAddress != nil {
		a := *t.DeliveryAddress
		c.DeliveryAddress = &a
	}
	if t.MetaData != nil {
		c.MetaData = make(map[string]interface{}, len(t.MetaData))
		for k, v := range t.MetaData {
			c.MetaData[k] = v
		}
	}
	return &c
}

func (m *MemoryDataSource) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.down()
}

func (m *MemoryDataSource) RecordTransaction(_ context.Context, txn *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if _, exists := m.transactions[txn.TransactionRef]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, "Failed to record transaction: duplicate record", nil)
	}
	m.transactions[txn.TransactionRef] = cloneTransaction(txn)
	return nil
}

func (m *MemoryDataSource) GetTransactionByRef(_ context.Context, ref string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	txn, ok := m.transactions[ref]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with reference '%s' not found", ref), nil)
	}
	return cloneTransaction(txn), nil
}

func (m *MemoryDataSource) GetTransactions(_ context.Context, filter model.TransactionFilter) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}

	var out []*model.Transaction
	for _, t := range m.transactions {
		if filter.RetailerID != "" && t.RetailerID != filter.RetailerID {
			continue
		}
		if filter.WholesalerID != "" && t.WholesalerID != filter.WholesalerID {
			continue
		}
		if filter.DeliveryAgentID != "" && t.DeliveryAgentID != filter.DeliveryAgentID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, t.Status) {
			continue
		}
		if filter.Before != nil && !model.CreatedCursor(t).Less(*filter.Before) {
			continue
		}
		out = append(out, cloneTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return model.CreatedCursor(out[j]).Less(model.CreatedCursor(out[i])) })

	if filter.Offset > 0 && filter.Before == nil {
		if filter.Offset >= len(out) {
			return []*model.Transaction{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	if out == nil {
		out = []*model.Transaction{}
	}
	return out, nil
}

func hasStatus(set []model.Status, s model.Status) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}

// casLocked applies the same guard as the SQL update. m.mu must be held.
func (m *MemoryDataSource) casLocked(txn *model.Transaction, expected model.Status) error {
	stored, ok := m.transactions[txn.TransactionRef]
	if !ok || stored.Status != expected || stored.Version != txn.Version {
		return apierror.NewAPIError(apierror.ErrConflict, "transaction state changed, retry", nil)
	}
	return nil
}

func (m *MemoryDataSource) storeLocked(txn *model.Transaction) {
	stored := m.transactions[txn.TransactionRef]
	next := cloneTransaction(txn)
	next.FundsLockedNotifiedAt = stored.FundsLockedNotifiedAt
	next.WithdrawnAmount = stored.WithdrawnAmount
	next.WithdrawnAt = stored.WithdrawnAt
	next.Version = stored.Version + 1
	m.transactions[txn.TransactionRef] = next
	txn.Version = next.Version
}

func (m *MemoryDataSource) appendLocked(entries ...model.LedgerEntry) {
	for _, e := range entries {
		if e.EntryID == "" {
			e.EntryID = model.GenerateUUIDWithSuffix("entry")
		}
		m.entries = append(m.entries, e)
	}
}

func (m *MemoryDataSource) UpdateTransaction(_ context.Context, txn *model.Transaction, expected model.Status, entries ...model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if err := m.casLocked(txn, expected); err != nil {
		return err
	}
	m.storeLocked(txn)
	m.appendLocked(entries...)
	return nil
}

func (m *MemoryDataSource) GetReleasableTransactions(_ context.Context, now time.Time, after model.Cursor, limit int) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	var out []*model.Transaction
	for _, t := range m.transactions {
		if t.Status == model.StatusOnHold && t.HoldReleaseAt != nil && !t.HoldReleaseAt.After(now) &&
			after.Less(model.ReleaseCursor(t)) {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.ReleaseCursor(out[i]).Less(model.ReleaseCursor(out[j])) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryDataSource) ClaimFundsLockedNotification(_ context.Context, ref string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return false, err
	}
	t, ok := m.transactions[ref]
	if !ok || t.FundsLockedNotifiedAt != nil {
		return false, nil
	}
	t.FundsLockedNotifiedAt = &at
	return true, nil
}

func (m *MemoryDataSource) RecordLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if entry.EntryID == "" {
		entry.EntryID = model.GenerateUUIDWithSuffix("entry")
	}
	m.appendLocked(*entry)
	return nil
}

func (m *MemoryDataSource) GetLedgerEntries(_ context.Context, filter model.LedgerFilter) ([]model.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}

	out := []model.LedgerEntry{}
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if filter.TransactionRef != "" && e.TransactionRef != filter.TransactionRef {
			continue
		}
		if filter.MerchantAccountID != "" && e.MerchantAccountID != filter.MerchantAccountID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Account != "" && e.From != filter.Account && e.To != filter.Account {
			continue
		}
		if filter.StartDate != nil && e.CreatedAt.Before(*filter.StartDate) {
			continue
		}
		if filter.EndDate != nil && e.CreatedAt.After(*filter.EndDate) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.EffectiveLimit() {
		out = out[:filter.EffectiveLimit()]
	}
	return out, nil
}

func (m *MemoryDataSource) GetEscrowBalance(_ context.Context, merchantAccountID string) (model.EscrowBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return model.EscrowBalance{}, err
	}
	var scoped []model.LedgerEntry
	for _, e := range m.entries {
		if e.MerchantAccountID == merchantAccountID {
			scoped = append(scoped, e)
		}
	}
	return model.EscrowBalance{
		MerchantAccountID: merchantAccountID,
		Balance:           model.BalanceFor(scoped),
		Entries:           len(scoped),
	}, nil
}

func (m *MemoryDataSource) GetLockedFunds(_ context.Context, retailerID string) (model.LockedFunds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return model.LockedFunds{}, err
	}
	lf, ok := m.lockedFunds[retailerID]
	if !ok {
		return model.LockedFunds{RetailerID: retailerID, Balance: decimal.Zero}, nil
	}
	return lf, nil
}

func (m *MemoryDataSource) GetCommittedAmount(_ context.Context, retailerID, excludeRef string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return decimal.Zero, err
	}
	return m.committedLocked(retailerID, excludeRef), nil
}

func (m *MemoryDataSource) committedLocked(retailerID, excludeRef string) decimal.Decimal {
	total := decimal.Zero
	for ref, t := range m.transactions {
		if t.RetailerID == retailerID && ref != excludeRef && t.Status.IsCommitted() {
			total = total.Add(t.Amount)
		}
	}
	return total
}

func (m *MemoryDataSource) FundTransaction(_ context.Context, txn *model.Transaction, entry model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	lf := m.lockedFunds[txn.RetailerID]
	if err := lf.CheckCurrency(txn.Currency); err != nil {
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	available := model.Available(lf.Balance, m.committedLocked(txn.RetailerID, txn.TransactionRef))
	if available.LessThan(txn.Amount) {
		return apierror.NewAPIError(apierror.ErrInsufficientFunds,
			fmt.Sprintf("insufficient locked funds: available %s, required %s", available.String(), txn.Amount.String()), nil)
	}
	if err := m.casLocked(txn, model.StatusPending); err != nil {
		return err
	}
	m.storeLocked(txn)
	m.appendLocked(entry)
	return nil
}

func (m *MemoryDataSource) AdjustLockedFunds(_ context.Context, adj model.LockedFundsAdjustment, entry model.LedgerEntry, now time.Time) (model.LockedFunds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return model.LockedFunds{}, err
	}
	lf, ok := m.lockedFunds[adj.RetailerID]
	if !ok {
		lf = model.LockedFunds{RetailerID: adj.RetailerID, Balance: decimal.Zero, Currency: adj.Currency}
	}
	if err := lf.CheckCurrency(adj.Currency); err != nil {
		return model.LockedFunds{}, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	if adj.Operation == model.AdjustSubtract {
		available := model.Available(lf.Balance, m.committedLocked(adj.RetailerID, ""))
		if available.LessThan(adj.Amount) {
			return model.LockedFunds{}, apierror.NewAPIError(apierror.ErrInsufficientFunds,
				fmt.Sprintf("cannot withdraw %s from locked funds: only %s is uncommitted", adj.Amount.String(), available.String()), nil)
		}
	}
	lf.Balance = lf.Balance.Add(adj.Signed())
	lf.UpdatedAt = now
	m.lockedFunds[adj.RetailerID] = lf

	entry.Balance = lf.Balance
	m.appendLocked(entry)
	return lf, nil
}

func (m *MemoryDataSource) RegisterHardwareGenerator(_ context.Context, gen *model.HardwareGenerator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if gen.Status == "" {
		gen.Status = model.HardwareStatusActive
	}
	if _, exists := m.hardware[gen.GeneratorID]; exists {
		return apierror.NewAPIError(apierror.ErrConflict, "Failed to register hardware generator: duplicate record", nil)
	}
	g := *gen
	m.hardware[gen.GeneratorID] = &g
	return nil
}

func (m *MemoryDataSource) GetHardwareGenerator(_ context.Context, generatorID string) (*model.HardwareGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	g, ok := m.hardware[generatorID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hardware generator '%s' not found", generatorID), nil)
	}
	out := *g
	return &out, nil
}

func (m *MemoryDataSource) TouchHardwareGenerator(_ context.Context, generatorID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	if g, ok := m.hardware[generatorID]; ok {
		g.LastUsedAt = &at
	}
	return nil
}

func (m *MemoryDataSource) GetHardwareGenerators(_ context.Context, holderID string) ([]*model.HardwareGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	out := []*model.HardwareGenerator{}
	for _, g := range m.hardware {
		if holderID == "" || g.RegisteredBy == holderID || g.AssignedTo == holderID {
			c := *g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GeneratorID < out[j].GeneratorID })
	return out, nil
}

func (m *MemoryDataSource) AssignHardwareGenerator(_ context.Context, generatorID, assignedTo string) (*model.HardwareGenerator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	g, ok := m.hardware[generatorID]
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Hardware generator '%s' not found", generatorID), nil)
	}
	g.AssignedTo = assignedTo
	out := *g
	return &out, nil
}

func (m *MemoryDataSource) GetWithdrawableTransactions(_ context.Context, wholesalerID string, now time.Time) ([]*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	var out []*model.Transaction
	for _, t := range m.transactions {
		if t.WholesalerID == wholesalerID && t.Withdrawable(now).IsPositive() {
			out = append(out, cloneTransaction(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AvailableForWithdrawalAt.Equal(*out[j].AvailableForWithdrawalAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].AvailableForWithdrawalAt.Before(*out[j].AvailableForWithdrawalAt)
	})
	return out, nil
}

func (m *MemoryDataSource) RecordWithdrawal(_ context.Context, w *model.Withdrawal, txns []*model.Transaction, entries []model.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return err
	}
	for _, txn := range txns {
		stored, ok := m.transactions[txn.TransactionRef]
		if !ok || stored.Version != txn.Version {
			return apierror.NewAPIError(apierror.ErrConflict, "transaction state changed, retry", nil)
		}
		if txn.WithdrawnAmount.GreaterThan(stored.Amount) {
			return apierror.NewAPIError(apierror.ErrInternalServer, "withdrawn amount exceeds transaction amount", nil)
		}
	}
	for _, txn := range txns {
		stored := m.transactions[txn.TransactionRef]
		stored.WithdrawnAmount = txn.WithdrawnAmount
		stored.WithdrawnAt = txn.WithdrawnAt
		stored.UpdatedAt = txn.UpdatedAt
		stored.Version++
		txn.Version = stored.Version
	}
	m.appendLocked(entries...)
	m.withdrawals = append(m.withdrawals, *w)
	return nil
}

func (m *MemoryDataSource) GetWithdrawals(_ context.Context, wholesalerID string) ([]model.Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.down(); err != nil {
		return nil, err
	}
	out := []model.Withdrawal{}
	for i := len(m.withdrawals) - 1; i >= 0; i-- {
		if m.withdrawals[i].WholesalerID == wholesalerID {
			out = append(out, m.withdrawals[i])
		}
	}
	return out, nil
}
