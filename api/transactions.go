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

// CreateTransaction opens a pending escrow transaction for the calling retailer.
//
// Responses:
// - 400 Bad Request: If the body cannot be bound or fails validation.
// - 403 Forbidden: If the caller is not a retailer.
// - 201 Created: The new transaction.
func (a Api) CreateTransaction(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var newTransaction model2.CreateTransaction
	if err := c.ShouldBindJSON(&newTransaction); err != nil {
		badRequest(c, err)
		return
	}
	if err := newTransaction.ValidateCreateTransaction(); err != nil {
		badRequest(c, err)
		return
	}

	txn, err := a.escrow.CreateTransaction(c.Request.Context(), p, newTransaction.ToCreateTransactionInput())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, txn)
}

// GetTransactions lists the transactions visible to the caller, optionally
// filtered by a comma separated status list.
func (a Api) GetTransactions(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var query model2.TransactionQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	filter, err := query.ToTransactionFilter()
	if err != nil {
		badRequest(c, err)
		return
	}

	txns, err := a.escrow.ListTransactions(c.Request.Context(), p, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txns)
}

func (a Api) GetTransaction(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	txn, err := a.escrow.GetTransaction(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, txn)
}

// FundTransaction locks the retailer's funds against the transaction. The
// body is optional.
func (a Api) FundTransaction(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.FundTransaction
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, err := a.escrow.FundTransaction(c.Request.Context(), p, c.Param("ref"), req.PaymentReference)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a Api) CancelTransaction(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	res, err := a.escrow.CancelTransaction(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a Api) AssignDeliveryAgent(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.AssignAgent
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAssignAgent(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := a.escrow.AssignDeliveryAgent(c.Request.Context(), p, c.Param("ref"), req.DeliveryAgentID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// InitiateDelivery dispatches a funded transaction and issues its delivery
// code. The wholesaler may name the hardware generator printing the code.
func (a Api) InitiateDelivery(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.InitiateDelivery
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	res, err := a.escrow.InitiateDelivery(c.Request.Context(), p, c.Param("ref"), req.HardwareGeneratorID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a Api) ExtendQRCode(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	view, err := a.escrow.ExtendQRCode(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (a Api) MarkDelivered(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	res, err := a.escrow.MarkDelivered(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ConfirmDelivery verifies the presented code and puts the transaction on hold.
//
// Responses:
// - 410 Gone: The code has expired.
// - 422 Unprocessable Entity: The code does not match or was already used.
// - 200 OK: The transaction and its hold entry.
func (a Api) ConfirmDelivery(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.ConfirmDelivery
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateConfirmDelivery(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := a.escrow.ConfirmDelivery(c.Request.Context(), p, c.Param("ref"), req.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (a Api) GetQRCode(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	view, err := a.escrow.GetQRCode(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
