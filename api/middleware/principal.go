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

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

// Headers set by the upstream identity gateway. Their values are trusted.
const (
	UserIDHeader   = "X-Escrow-User-Id"
	UserRoleHeader = "X-Escrow-User-Role"
)

const principalKey = "escrow.principal"

// PrincipalMiddleware reads the caller identity from the gateway headers
// and rejects requests that carry none.
func PrincipalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserIDHeader))
		role := model.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(UserRoleHeader))))
		if id == "" || role == "" {
			abort(c, apierror.ErrUnauthenticated, "missing caller identity")
			return
		}
		if !role.Valid() {
			abort(c, apierror.ErrUnauthenticated, "unknown role: "+string(role))
			return
		}
		c.Set(principalKey, model.Principal{ID: id, Role: role})
		c.Next()
	}
}

// GetPrincipal returns the caller stored by PrincipalMiddleware.
func GetPrincipal(c *gin.Context) (model.Principal, bool) {
	v, exists := c.Get(principalKey)
	if !exists {
		return model.Principal{}, false
	}
	p, ok := v.(model.Principal)
	return p, ok
}
