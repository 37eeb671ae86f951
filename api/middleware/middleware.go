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
	"crypto/subtle"
	"time"

	"github.com/didip/tollbooth/v7"
	"github.com/didip/tollbooth/v7/limiter"
	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/apierror"
)

// SecretKeyHeader carries the shared secret between the gateway and this
// service when the server runs in secure mode.
const SecretKeyHeader = "X-Escrow-Key"

// abort stops the chain with the same {error, code} body the handlers write.
func abort(c *gin.Context, code apierror.ErrorCode, message string) {
	err := apierror.NewAPIError(code, message, nil)
	c.AbortWithStatusJSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Message, "code": err.Code})
}

// GatewayKeyMiddleware admits only requests carrying the shared secret. The
// caller identity headers are trusted only behind it.
func GatewayKeyMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			abort(c, apierror.ErrInternalServer, "gateway secret key is not configured")
			return
		}
		presented := c.GetHeader(SecretKeyHeader)
		if presented == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
			abort(c, apierror.ErrUnauthenticated, "missing or invalid gateway secret key")
			return
		}
		c.Next()
	}
}

// RateLimitMiddleware throttles each client address. Without a configured
// rate every request passes.
func RateLimitMiddleware(rl config.RateLimitConfig) gin.HandlerFunc {
	if rl.RequestsPerSecond == nil || rl.Burst == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	ttl := time.Hour
	if rl.CleanupIntervalSec != nil {
		ttl = time.Duration(*rl.CleanupIntervalSec) * time.Second
	}
	lmt := tollbooth.NewLimiter(*rl.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: ttl})
	lmt.SetBurst(*rl.Burst)

	return func(c *gin.Context) {
		if httpErr := tollbooth.LimitByRequest(lmt, c.Writer, c.Request); httpErr != nil {
			abort(c, apierror.ErrRateLimited, "too many requests, retry later")
			return
		}
		c.Next()
	}
}
