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

// FileDispute freezes the transaction's release until the dispute is handled.
func (a Api) FileDispute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.FileDispute
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateFileDispute(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := a.escrow.FileDispute(c.Request.Context(), p, c.Param("ref"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (a Api) GetDispute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	dispute, err := a.escrow.GetDispute(c.Request.Context(), p, c.Param("ref"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dispute)
}

// ResolveDispute records an admin's resolution. Funds do not move.
func (a Api) ResolveDispute(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.ResolveDispute
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateResolveDispute(); err != nil {
		badRequest(c, err)
		return
	}

	res, err := a.escrow.ResolveDispute(c.Request.Context(), p, c.Param("ref"), req.Resolution)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
