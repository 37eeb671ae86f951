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
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/apierror"
	redlock "github.com/blnkfinance/escrow/internal/lock"
	"github.com/blnkfinance/escrow/internal/notification"
	"github.com/blnkfinance/escrow/model"
)

// PartyResolver confirms that a party referenced by a transaction still exists.
type PartyResolver interface {
	ResolveWholesaler(ctx context.Context, wholesalerID string) error
}

// StaticPartyResolver accepts every non-empty id.
type StaticPartyResolver struct{}

func (StaticPartyResolver) ResolveWholesaler(_ context.Context, wholesalerID string) error {
	if strings.TrimSpace(wholesalerID) == "" {
		return apierror.NewAPIError(apierror.ErrNotFound, "wholesaler is not set", nil)
	}
	return nil
}

type ReleaseOutcome string

const (
	ReleaseReleased   ReleaseOutcome = "released"
	ReleaseNotDue     ReleaseOutcome = "not_due"
	ReleaseDisputed   ReleaseOutcome = "skipped_disputed"
	ReleaseUnresolved ReleaseOutcome = "skipped_unresolved_wholesaler"
	ReleaseIneligible ReleaseOutcome = "skipped_ineligible"
)

// ReleaseTransaction completes one on_hold transaction whose hold period is
// over, paying its amount out of escrow to the wholesaler. Transactions that
// are not due, disputed or no longer on hold are left alone and reported.
func (e *Escrow) ReleaseTransaction(ctx context.Context, ref string) (ReleaseOutcome, error) {
	ctx, span := tracer.Start(ctx, "ReleaseTransaction")
	defer span.End()

	unlock, err := e.acquireLock(ctx, redlock.TransactionKey(ref))
	if err != nil {
		return "", err
	}
	defer unlock()

	txn, err := e.datasource.GetTransactionByRef(ctx, ref)
	if err != nil {
		return "", err
	}

	now := e.now()
	switch {
	case txn.HasDispute():
		return ReleaseDisputed, nil
	case txn.Status != model.StatusOnHold:
		return ReleaseIneligible, nil
	case txn.HoldReleaseAt == nil || txn.HoldReleaseAt.After(now):
		return ReleaseNotDue, nil
	}
	if err := e.parties.ResolveWholesaler(ctx, txn.WholesalerID); err != nil {
		logrus.WithFields(logrus.Fields{
			"transaction_ref": ref,
			"wholesaler_id":   txn.WholesalerID,
		}).Warnf("cannot release, wholesaler not resolvable: %v", err)
		return ReleaseUnresolved, nil
	}

	if err := apply(txn, model.ActionRelease, now); err != nil {
		return "", err
	}
	entry := e.newEntry(txn, model.EntryRelease, model.EscrowAccount, model.WholesalerAccount(txn.WholesalerID), decimal.Zero,
		fmt.Sprintf("Funds released to wholesaler for transaction %s", txn.TransactionRef), now, nil)
	if err := e.datasource.UpdateTransaction(ctx, txn, model.StatusOnHold, entry); err != nil {
		return "", logAndRecordError(span, "failed to release transaction: ", err)
	}

	e.emit(ctx, model.NewEvent(model.EventPaymentReleased, txn.TransactionRef, now, map[string]string{
		"amount":   txn.Amount.String(),
		"currency": txn.Currency,
	}, txn.WholesalerID, txn.RetailerID))
	return ReleaseReleased, nil
}

// SweepResult summarises one scheduler run.
type SweepResult struct {
	Skipped    bool `json:"skipped"`
	Candidates int  `json:"candidates"`
	Released   int  `json:"released"`
	Disputed   int  `json:"disputed"`
	Unresolved int  `json:"unresolved"`
	Failed     int  `json:"failed"`
	Panicked   bool `json:"panicked"`
}

// ReleaseScheduler periodically releases transactions whose hold period is over.
type ReleaseScheduler struct {
	escrow    *Escrow
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewReleaseScheduler builds a scheduler for e. A zero interval falls back to
// the configured release interval.
func NewReleaseScheduler(e *Escrow, interval time.Duration) *ReleaseScheduler {
	if interval <= 0 {
		interval = config.DefaultReleaseIntervalSeconds * time.Second
		if cfg, err := config.Fetch(); err == nil && cfg.Escrow.ReleaseIntervalSeconds > 0 {
			interval = time.Duration(cfg.Escrow.ReleaseIntervalSeconds) * time.Second
		}
	}
	return &ReleaseScheduler{
		escrow:    e,
		interval:  interval,
		batchSize: 500,
		stopCh:    make(chan struct{}),
	}
}

func (s *ReleaseScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()

	logrus.Infof("Release scheduler started, sweeping every %s", s.interval)
}

func (s *ReleaseScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logrus.Info("Release scheduler stopped")
}

func (s *ReleaseScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *ReleaseScheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Release scheduler context cancelled")
			return
		case <-s.stopCh:
			logrus.Info("Release scheduler stop signal received")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. A panic inside the sweep is recovered,
// logged and alerted so later sweeps still run.
func (s *ReleaseScheduler) RunOnce(ctx context.Context) (result SweepResult) {
	defer func() {
		if r := recover(); r != nil {
			result.Panicked = true
			logrus.Errorf("release sweep panicked: %v\n%s", r, debug.Stack())
			notification.NotifyError(fmt.Errorf("release sweep panicked: %v", r))
		}
	}()

	if err := s.escrow.datasource.Ping(ctx); err != nil {
		logrus.Warnf("release sweep skipped, store unreachable: %v", err)
		result.Skipped = true
		return result
	}

	// Pages resume after the last candidate seen, so rows left on hold by a
	// failed or unresolved release cannot crowd out the ones behind them.
	now := s.escrow.now()
	var cursor model.Cursor
	for ctx.Err() == nil {
		candidates, err := s.escrow.datasource.GetReleasableTransactions(ctx, now, cursor, s.batchSize)
		if err != nil {
			logrus.Errorf("failed to list releasable transactions: %v", err)
			if result.Candidates == 0 {
				result.Skipped = true
			}
			break
		}
		result.Candidates += len(candidates)
		s.releaseBatch(ctx, candidates, &result)
		if len(candidates) < s.batchSize {
			break
		}
		cursor = model.ReleaseCursor(candidates[len(candidates)-1])
	}

	if result.Candidates > 0 {
		logrus.Infof("Release sweep: %d candidates, %d released, %d disputed, %d unresolved, %d failed",
			result.Candidates, result.Released, result.Disputed, result.Unresolved, result.Failed)
	}
	return result
}

func (s *ReleaseScheduler) releaseBatch(ctx context.Context, candidates []*model.Transaction, result *SweepResult) {
	for _, txn := range candidates {
		outcome, err := s.escrow.ReleaseTransaction(ctx, txn.TransactionRef)
		if err != nil {
			result.Failed++
			logrus.WithField("transaction_ref", txn.TransactionRef).Errorf("failed to release transaction: %v", err)
			continue
		}
		switch outcome {
		case ReleaseReleased:
			result.Released++
		case ReleaseDisputed:
			result.Disputed++
		case ReleaseUnresolved:
			result.Unresolved++
		}
	}
}

// ReleaseTaskPayload is the body of a scheduled release task.
type ReleaseTaskPayload struct {
	TransactionRef string `json:"transaction_ref"`
}

// ProcessReleaseTask handles a release task scheduled at confirmation time.
// A transaction that is not releasable any more is acknowledged without retry.
func (e *Escrow) ProcessReleaseTask(ctx context.Context, task *asynq.Task) error {
	var payload ReleaseTaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logrus.Errorf("invalid release task payload: %v", err)
		return fmt.Errorf("invalid release task payload: %v: %w", err, asynq.SkipRetry)
	}
	outcome, err := e.ReleaseTransaction(ctx, payload.TransactionRef)
	if err != nil {
		if apierror.IsCode(err, apierror.ErrNotFound) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
	logrus.WithFields(logrus.Fields{
		"transaction_ref": payload.TransactionRef,
		"outcome":         outcome,
	}).Info("release task processed")
	return nil
}
