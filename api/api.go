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
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/blnkfinance/prizepay"
	"github.com/blnkfinance/prizepay/api/middleware"
	"github.com/blnkfinance/prizepay/config"
	"github.com/blnkfinance/prizepay/internal/metrics"
)

type Api struct {
	prizepay    *prizepay.Prizepay
	router      *gin.Engine
	secretKey   string
	secureReads bool
}

// Router registers the payout routes. Creating a payout always needs the secret
// key; read routes need it only when server.secure is set.
func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/payouts", middleware.SecretKeyAuth(a.secretKey), a.CreatePayout)

	reads := router.Group("/")
	if a.secureReads {
		reads.Use(middleware.SecretKeyAuth(a.secretKey))
	}
	reads.GET("/payouts/pending", a.GetPendingPayouts)
	reads.GET("/payouts/unconfirmed", a.GetUnconfirmedPayouts)
	reads.GET("/payouts/:id", a.GetPayout)

	reads.GET("/treasury", a.GetTreasury)
	return a.router
}

func NewAPI(p *prizepay.Prizepay) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(conf.ProjectName), metrics.GinMiddleware())

	// probes and scrapes stay outside auth and rate limiting
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.Use(middleware.RateLimit(conf.RateLimit))

	return &Api{
		prizepay:    p,
		router:      r,
		secretKey:   conf.Server.SecretKey,
		secureReads: conf.Server.Secure,
	}
}
