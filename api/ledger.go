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

// GetLedger lists ledger entries. Non-admin callers only see their own
// account unless they ask for a transaction they are a party to.
//
// Query parameters: transaction_ref, type, account, start_date, end_date, limit.
func (a Api) GetLedger(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var query model2.LedgerQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		badRequest(c, err)
		return
	}
	filter, err := query.ToLedgerFilter()
	if err != nil {
		badRequest(c, err)
		return
	}

	entries, err := a.escrow.GetLedger(c.Request.Context(), p, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a Api) GetTransactionLedger(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	entries, err := a.escrow.GetTransactionLedger(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a Api) GetEscrowBalance(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	balance, err := a.escrow.GetEscrowBalance(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

// AppendLedgerEntry records a manual entry. Admin only.
func (a Api) AppendLedgerEntry(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.AppendLedgerEntry
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAppendLedgerEntry(); err != nil {
		badRequest(c, err)
		return
	}

	entryID, err := a.escrow.AppendLedgerEntry(c.Request.Context(), p, req.ToLedgerEntry())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"entry_id": entryID})
}
