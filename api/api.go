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
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/escrow"
	"github.com/blnkfinance/escrow/api/middleware"
	"github.com/blnkfinance/escrow/config"
	"github.com/blnkfinance/escrow/internal/apierror"
	"github.com/blnkfinance/escrow/model"
)

type Api struct {
	escrow    *escrow.Escrow
	scheduler *escrow.ReleaseScheduler
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	r := router.Group("/", middleware.PrincipalMiddleware())

	r.POST("/transactions", a.CreateTransaction)
	r.GET("/transactions", a.GetTransactions)
	r.GET("/transactions/:ref", a.GetTransaction)
	r.POST("/transactions/:ref/fund", a.FundTransaction)
	r.POST("/transactions/:ref/cancel", a.CancelTransaction)
	r.POST("/transactions/:ref/assign-agent", a.AssignDeliveryAgent)
	r.POST("/transactions/:ref/initiate-delivery", a.InitiateDelivery)
	r.POST("/transactions/:ref/extend-qr", a.ExtendQRCode)
	r.POST("/transactions/:ref/mark-delivered", a.MarkDelivered)
	r.POST("/transactions/:ref/confirm-delivery", a.ConfirmDelivery)
	r.GET("/qr/:ref", a.GetQRCode)

	r.POST("/disputes/:ref", a.FileDispute)
	r.GET("/disputes/:ref", a.GetDispute)
	r.PUT("/disputes/:ref/resolution", a.ResolveDispute)

	r.GET("/ledger", a.GetLedger)
	r.POST("/ledger", a.AppendLedgerEntry)
	r.GET("/ledger/balance", a.GetEscrowBalance)
	r.GET("/ledger/:ref", a.GetTransactionLedger)

	r.GET("/locked-funds", a.GetLockedFunds)
	r.POST("/locked-funds/adjust", a.AdjustLockedFunds)

	r.GET("/withdrawals", a.GetWithdrawals)
	r.GET("/withdrawals/available", a.GetAvailableWithdrawal)
	r.POST("/withdrawals", a.RequestWithdrawal)
	r.GET("/payouts/pending", a.GetPendingPayouts)
	r.GET("/payouts/summary", a.GetPayoutSummary)

	r.POST("/hardware", a.RegisterHardwareGenerator)
	r.GET("/hardware", a.ListHardwareGenerators)
	r.PUT("/hardware/:id/assign", a.AssignHardwareGenerator)
	r.POST("/admin/release-sweep", a.TriggerReleaseSweep)
	return a.router
}

func NewAPI(e *escrow.Escrow) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf.RateLimit))
	if conf.Server.Secure {
		r.Use(middleware.GatewayKeyMiddleware(conf.Server.SecretKey))
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{escrow: e, scheduler: escrow.NewReleaseScheduler(e, 0), router: r}
}

// principal fetches the caller set by the principal middleware. The handler
// must return when ok is false; a response has already been written.
func principal(c *gin.Context) (model.Principal, bool) {
	p, ok := middleware.GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity", "code": apierror.ErrUnauthenticated})
	}
	return p, ok
}

// respondError writes err with the status its error code maps to.
func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	if apiErr, ok := apierror.As(err); ok {
		if status >= http.StatusInternalServerError {
			logrus.WithField("path", c.FullPath()).Errorf("%s: %v", apiErr.Message, apiErr.Details)
		}
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code})
		return
	}
	logrus.WithField("path", c.FullPath()).Error(err)
	c.JSON(status, gin.H{"error": err.Error(), "code": apierror.ErrInternalServer})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
}
