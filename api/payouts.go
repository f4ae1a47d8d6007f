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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blnkfinance/prizepay"
	model2 "github.com/blnkfinance/prizepay/api/model"
	"github.com/blnkfinance/prizepay/internal/apierror"
	"github.com/blnkfinance/prizepay/model"
)

// CreatePayout pays a prize inline. The handler answers only after the transfer
// is confirmed, failed or given up on, so clients should allow for the
// configured request timeout.
func (a Api) CreatePayout(c *gin.Context) {
	var newPayout model2.CreatePayout
	if err := c.ShouldBindJSON(&newPayout); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newPayout.ValidateCreatePayout(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	result, err := a.prizepay.RequestPayout(c.Request.Context(), newPayout.WalletAddress, newPayout.Amount, newPayout.Kind)
	if err != nil {
		if errors.Is(err, prizepay.ErrInvalidInput) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(payoutStatusCode(result), result)
}

func payoutStatusCode(result *model.PayoutResult) int {
	switch {
	case result.Success:
		return http.StatusCreated
	case result.Status == model.StatusProcessing:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}

func (a Api) GetPayout(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.prizepay.GetPayout(c.Request.Context(), id)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetPendingPayouts(c *gin.Context) {
	resp, err := a.prizepay.ListPendingPayouts(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetUnconfirmedPayouts(c *gin.Context) {
	resp, err := a.prizepay.ListUnconfirmedPayouts(c.Request.Context())
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetTreasury(c *gin.Context) {
	report, err := a.prizepay.TreasuryMonitor().Check(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, report)
}
