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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/blnkfinance/escrow/api/model"
)

func (a Api) GetAvailableWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	available, err := a.escrow.GetAvailableWithdrawal(c.Request.Context(), p, c.Query("wholesaler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, available)
}

// RequestWithdrawal pays out released funds, oldest transactions first.
//
// Responses:
// - 402 Payment Required: The amount exceeds what is available.
// - 201 Created: The recorded withdrawal.
func (a Api) RequestWithdrawal(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.RequestWithdrawal
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateRequestWithdrawal(); err != nil {
		badRequest(c, err)
		return
	}

	withdrawal, err := a.escrow.RequestWithdrawal(c.Request.Context(), p, req.WholesalerID, req.Amount, req.BankAccount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, withdrawal)
}

func (a Api) GetWithdrawals(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	withdrawals, err := a.escrow.GetWithdrawals(c.Request.Context(), p, c.Query("wholesaler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawals)
}

func (a Api) GetPendingPayouts(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	txns, err := a.escrow.GetPendingPayouts(c.Request.Context(), p, c.Query("wholesaler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (a Api) GetPayoutSummary(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	summary, err := a.escrow.GetPayoutSummary(c.Request.Context(), p, c.Query("wholesaler_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
