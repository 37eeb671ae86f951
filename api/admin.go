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

// TriggerReleaseSweep runs one release sweep immediately and reports its result.
func (a Api) TriggerReleaseSweep(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	if !p.IsAdmin() {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admins can trigger a release sweep"})
		return
	}
	result := a.scheduler.RunOnce(c.Request.Context())
	if result.Skipped {
		c.JSON(http.StatusServiceUnavailable, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a Api) RegisterHardwareGenerator(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.RegisterHardwareGenerator
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateRegisterHardwareGenerator(); err != nil {
		badRequest(c, err)
		return
	}

	gen, err := a.escrow.RegisterHardwareGenerator(c.Request.Context(), p, req.ToHardwareGenerator())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gen)
}

func (a Api) ListHardwareGenerators(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	gens, err := a.escrow.ListHardwareGenerators(c.Request.Context(), p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gens)
}

func (a Api) AssignHardwareGenerator(c *gin.Context) {
	p, ok := principal(c)
	if !ok {
		return
	}
	var req model2.AssignHardwareGenerator
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := req.ValidateAssignHardwareGenerator(); err != nil {
		badRequest(c, err)
		return
	}

	gen, err := a.escrow.AssignHardwareGenerator(c.Request.Context(), p, c.Param("id"), req.AssignedTo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gen)
}
