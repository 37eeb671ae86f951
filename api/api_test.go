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

package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blnkfinance/escrow"
	model2 "github.com/blnkfinance/escrow/api/model"
	"github.com/blnkfinance/escrow/api/middleware"
	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/database/mocks"
	"github.com/blnkfinance/escrow/model"
)

type TestRequest struct {
	Payload   interface{}
	Router    *gin.Engine
	Response  interface{}
	Method    string
	Route     string
	Principal *model.Principal
	Header    map[string]string
}

func SetUpTestRequest(t *testing.T, s TestRequest) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if s.Payload != nil {
		raw, err := json.Marshal(s.Payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(s.Method, s.Route, body)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	if s.Principal != nil {
		req.Header.Set(middleware.UserIDHeader, s.Principal.ID)
		req.Header.Set(middleware.UserRoleHeader, string(s.Principal.Role))
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(s.Response), resp.Body.String())
	}
	return resp
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testServer struct {
	router     *gin.Engine
	ds         *mocks.MemoryDataSource
	clock      *clock
	retailer   model.Principal
	wholesaler model.Principal
	agent      model.Principal
	admin      model.Principal
}

func setupRouter(t *testing.T) *testServer {
	t.Helper()
	config.MockConfig(&config.Configuration{
		ProjectName: "escrow-test",
	})
	s := &testServer{
		ds:         mocks.NewMemoryDataSource(),
		clock:      &clock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		retailer:   model.Principal{ID: gofakeit.UUID(), Role: model.RoleRetailer},
		wholesaler: model.Principal{ID: gofakeit.UUID(), Role: model.RoleWholesaler},
		agent:      model.Principal{ID: gofakeit.UUID(), Role: model.RoleDeliveryAgent},
		admin:      model.Principal{ID: gofakeit.UUID(), Role: model.RoleAdmin},
	}
	e := escrow.NewEscrow(s.ds, escrow.WithClock(s.clock.Now))
	a := NewAPI(e)
	require.NotNil(t, a)
	s.router = a.Router()
	return s
}

func (s *testServer) do(t *testing.T, method, route string, p model.Principal, payload, response interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return SetUpTestRequest(t, TestRequest{
		Router:    s.router,
		Method:    method,
		Route:     route,
		Principal: &p,
		Payload:   payload,
		Response:  response,
	})
}

func (s *testServer) createTransaction(t *testing.T, amount int64) *model.Transaction {
	t.Helper()
	var txn model.Transaction
	resp := s.do(t, http.MethodPost, "/transactions", s.retailer, model2.CreateTransaction{
		WholesalerID:    s.wholesaler.ID,
		DeliveryAgentID: s.agent.ID,
		Amount:          decimal.NewFromInt(amount),
		Description:     gofakeit.Sentence(4),
		PaymentMethod:   "ecocash",
	}, &txn)
	require.Equal(t, http.StatusCreated, resp.Code)
	return &txn
}

// dispatch creates, funds and dispatches a transaction and returns the issued code.
func (s *testServer) dispatch(t *testing.T, amount int64) (string, string) {
	t.Helper()
	txn := s.createTransaction(t, amount)
	ref := txn.TransactionRef

	resp := s.do(t, http.MethodPost, "/transactions/"+ref+"/fund", s.retailer, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var res escrow.TransactionResult
	resp = s.do(t, http.MethodPost, "/transactions/"+ref+"/initiate-delivery", s.wholesaler, nil, &res)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotNil(t, res.Transaction.QRCode)
	return ref, res.Transaction.QRCode.Code
}

func TestHealth(t *testing.T) {
	s := setupRouter(t)
	resp := SetUpTestRequest(t, TestRequest{Router: s.router, Method: http.MethodGet, Route: "/"})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPrincipalHeadersRequired(t *testing.T) {
	s := setupRouter(t)

	resp := SetUpTestRequest(t, TestRequest{Router: s.router, Method: http.MethodGet, Route: "/transactions"})
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = s.do(t, http.MethodGet, "/transactions", model.Principal{ID: "x", Role: "superuser"}, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	s := setupRouter(t)
	s.ds.SeedLockedFunds(s.retailer.ID, decimal.NewFromInt(500), "USD")

	ref, code := s.dispatch(t, 200)

	var qr model.QRCodeView
	resp := s.do(t, http.MethodGet, "/qr/"+ref, s.agent, nil, &qr)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, code, qr.Code)

	s.clock.Advance(3 * time.Hour)
	var confirmed escrow.TransactionResult
	resp = s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{Code: code}, &confirmed)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusOnHold, confirmed.Transaction.Status)

	var sweep escrow.SweepResult
	resp = s.do(t, http.MethodPost, "/admin/release-sweep", s.admin, nil, &sweep)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, sweep.Released)

	s.clock.Advance(escrow.HoldPeriod + time.Second)
	resp = s.do(t, http.MethodPost, "/admin/release-sweep", s.admin, nil, &sweep)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, sweep.Released)

	var txn model.Transaction
	resp = s.do(t, http.MethodGet, "/transactions/"+ref, s.wholesaler, nil, &txn)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.StatusCompleted, txn.Status)

	var entries []model.LedgerEntry
	resp = s.do(t, http.MethodGet, "/ledger/"+ref, s.retailer, nil, &entries)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, entries, 3)

	var balance model.EscrowBalance
	resp = s.do(t, http.MethodGet, "/ledger/balance", s.admin, nil, &balance)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, balance.Balance.IsZero(), balance.Balance.String())

	resp = s.do(t, http.MethodGet, "/ledger/balance", s.retailer, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestCreateTransactionRejectsBadInput(t *testing.T) {
	s := setupRouter(t)

	resp := s.do(t, http.MethodPost, "/transactions", s.retailer, model2.CreateTransaction{
		WholesalerID:  s.wholesaler.ID,
		Amount:        decimal.Zero,
		PaymentMethod: "ecocash",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodPost, "/transactions", s.wholesaler, model2.CreateTransaction{
		WholesalerID:  s.wholesaler.ID,
		Amount:        decimal.NewFromInt(10),
		PaymentMethod: "ecocash",
	}, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	s := setupRouter(t)
	s.ds.SeedLockedFunds(s.retailer.ID, decimal.NewFromInt(100), "USD")

	var body map[string]interface{}
	resp := s.do(t, http.MethodGet, "/transactions/TXN-missing", s.admin, nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	big := s.createTransaction(t, 1000)
	resp = s.do(t, http.MethodPost, "/transactions/"+big.TransactionRef+"/fund", s.retailer, nil, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)

	resp = s.do(t, http.MethodPost, "/transactions/"+big.TransactionRef+"/initiate-delivery", s.wholesaler, nil, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)

	stranger := model.Principal{ID: gofakeit.UUID(), Role: model.RoleRetailer}
	resp = s.do(t, http.MethodGet, "/transactions/"+big.TransactionRef, stranger, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestConfirmDeliveryErrors(t *testing.T) {
	s := setupRouter(t)
	s.ds.SeedLockedFunds(s.retailer.ID, decimal.NewFromInt(100), "USD")

	ref, code := s.dispatch(t, 40)
	resp := s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{Code: "not-the-code"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)

	resp = s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	s.clock.Advance(model.QRValidity + time.Second)
	resp = s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{Code: code}, nil)
	assert.Equal(t, http.StatusGone, resp.Code)
}

func TestDisputeOverHTTP(t *testing.T) {
	s := setupRouter(t)
	s.ds.SeedLockedFunds(s.retailer.ID, decimal.NewFromInt(100), "USD")
	ref, code := s.dispatch(t, 60)

	resp := s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{Code: code}, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = s.do(t, http.MethodPost, "/disputes/"+ref, s.retailer, model2.FileDispute{Reason: "short delivery"}, nil)
	require.Equal(t, http.StatusCreated, resp.Code)

	var dispute model.Dispute
	resp = s.do(t, http.MethodGet, "/disputes/"+ref, s.wholesaler, nil, &dispute)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "short delivery", dispute.Reason)

	s.clock.Advance(escrow.HoldPeriod + time.Second)
	var sweep escrow.SweepResult
	s.do(t, http.MethodPost, "/admin/release-sweep", s.admin, nil, &sweep)
	assert.Equal(t, 0, sweep.Released)

	resp = s.do(t, http.MethodPut, "/disputes/"+ref+"/resolution", s.wholesaler, model2.ResolveDispute{Resolution: "refund"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	resp = s.do(t, http.MethodPut, "/disputes/"+ref+"/resolution", s.admin, model2.ResolveDispute{Resolution: "refund"}, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestLockedFundsAndWithdrawalsOverHTTP(t *testing.T) {
	s := setupRouter(t)

	var summary model.LockedFundsSummary
	resp := s.do(t, http.MethodPost, "/locked-funds/adjust", s.retailer, model2.AdjustLockedFunds{
		Amount:    decimal.NewFromInt(300),
		Operation: "add",
	}, &summary)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decimal.NewFromInt(300).Equal(summary.Balance))

	ref, code := s.dispatch(t, 120)
	resp = s.do(t, http.MethodGet, "/locked-funds", s.retailer, nil, &summary)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decimal.NewFromInt(180).Equal(summary.Available), summary.Available.String())

	resp = s.do(t, http.MethodPost, "/transactions/"+ref+"/confirm-delivery", s.retailer, model2.ConfirmDelivery{Code: code}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	s.clock.Advance(escrow.HoldPeriod + time.Second)
	s.do(t, http.MethodPost, "/admin/release-sweep", s.admin, nil, nil)

	var available model.AvailableWithdrawal
	s.do(t, http.MethodGet, "/withdrawals/available", s.wholesaler, nil, &available)
	assert.True(t, available.Available.IsZero())

	s.clock.Advance(escrow.WithdrawalDelay)
	s.do(t, http.MethodGet, "/withdrawals/available", s.wholesaler, nil, &available)
	assert.True(t, decimal.NewFromInt(120).Equal(available.Available), available.Available.String())

	resp = s.do(t, http.MethodPost, "/withdrawals", s.wholesaler, model2.RequestWithdrawal{
		Amount:      decimal.NewFromInt(500),
		BankAccount: "ACC-001",
	}, nil)
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)

	var withdrawal model.Withdrawal
	resp = s.do(t, http.MethodPost, "/withdrawals", s.wholesaler, model2.RequestWithdrawal{
		Amount:      decimal.NewFromInt(70),
		BankAccount: "ACC-001",
	}, &withdrawal)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.True(t, decimal.NewFromInt(70).Equal(withdrawal.Amount))

	var payouts model.PayoutSummary
	resp = s.do(t, http.MethodGet, "/payouts/summary", s.wholesaler, nil, &payouts)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, decimal.NewFromInt(50).Equal(payouts.Available), payouts.Available.String())
	assert.True(t, decimal.NewFromInt(70).Equal(payouts.Withdrawn))
}

func TestReleaseSweepRequiresAdmin(t *testing.T) {
	s := setupRouter(t)
	resp := s.do(t, http.MethodPost, "/admin/release-sweep", s.wholesaler, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestHardwareGeneratorsOverHTTP(t *testing.T) {
	s := setupRouter(t)
	owner := model.Principal{ID: gofakeit.UUID(), Role: model.RoleWholesaler}

	var gen model.HardwareGenerator
	resp := s.do(t, http.MethodPost, "/hardware", owner, model2.RegisterHardwareGenerator{GeneratorID: "hw-1"}, &gen)
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, owner.ID, gen.RegisteredBy)

	var listed []model.HardwareGenerator
	resp = s.do(t, http.MethodGet, "/hardware", s.wholesaler, nil, &listed)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, listed)

	resp = s.do(t, http.MethodPut, "/hardware/hw-1/assign", s.wholesaler, model2.AssignHardwareGenerator{AssignedTo: s.wholesaler.ID}, nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	resp = s.do(t, http.MethodPut, "/hardware/hw-1/assign", owner, model2.AssignHardwareGenerator{}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = s.do(t, http.MethodPut, "/hardware/hw-missing/assign", s.admin, model2.AssignHardwareGenerator{AssignedTo: s.wholesaler.ID}, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp = s.do(t, http.MethodPut, "/hardware/hw-1/assign", owner, model2.AssignHardwareGenerator{AssignedTo: s.wholesaler.ID}, &gen)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, s.wholesaler.ID, gen.AssignedTo)

	resp = s.do(t, http.MethodGet, "/hardware", s.wholesaler, nil, &listed)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, listed, 1)
	assert.Equal(t, "hw-1", listed[0].GeneratorID)

	s.ds.SeedLockedFunds(s.retailer.ID, decimal.NewFromInt(100), "USD")
	txn := s.createTransaction(t, 100)
	resp = s.do(t, http.MethodPost, "/transactions/"+txn.TransactionRef+"/fund", s.retailer, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var res escrow.TransactionResult
	resp = s.do(t, http.MethodPost, "/transactions/"+txn.TransactionRef+"/initiate-delivery", s.wholesaler,
		model2.InitiateDelivery{HardwareGeneratorID: "hw-1"}, &res)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "hw-1", res.Transaction.QRCode.HardwareGeneratorID)
}

func TestCreateTransactionRejectsForeignCurrency(t *testing.T) {
	s := setupRouter(t)
	resp := s.do(t, http.MethodPost, "/transactions", s.retailer, model2.CreateTransaction{
		WholesalerID:  s.wholesaler.ID,
		Amount:        decimal.NewFromInt(100),
		Currency:      "ZWL",
		PaymentMethod: "ecocash",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
