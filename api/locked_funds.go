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

// GetLockedFunds returns the caller's locked-funds summary. Admins pass
// ?retailer_id= to read another retailer's.
func (a Api) GetLockedFunds(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	summary, err := a.escrow.GetLockedFunds(c.Request.Context(), p, c.Query("retailer_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a Api) AdjustLockedFunds(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.AdjustLockedFunds
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAdjustLockedFunds(); err != nil {
		badRequest(c, err)
		return
	}

	summary, err := a.escrow.AdjustLockedFunds(c.Request.Context(), p, req.ToAdjustment())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
