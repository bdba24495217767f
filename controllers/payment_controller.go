package controllers

import (
	"net/http"

	"github.com/mktdigital/marketplace-backend/middleware"
	"github.com/mktdigital/marketplace-backend/repository"
	"github.com/mktdigital/marketplace-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PaymentController struct {
	Payments   *services.PaymentService
	Reconciler *services.ReconciliationService
	Sessions   repository.SessionRepository
	Responses  repository.PaymentResponseRepository
	Logger     *zap.Logger
}

// InitiatePayment starts a payment attempt and returns the hosted-redirect
// form. Validation failures come back as 400; internal pipeline failures as
// 502 without leaking configuration detail.
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req services.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.UserID = middleware.GetUserID(c)
	req.ClientIP = c.ClientIP()

	result := pc.Payments.InitiatePayment(c.Request.Context(), &req)
	if !result.Success {
		switch result.ErrorKind {
		case services.ErrKindValidation:
			c.JSON(http.StatusBadRequest, result)
		case services.ErrKindConfiguration:
			pc.Logger.Error("payment initiation misconfigured", zap.String("message", result.Message))
			c.JSON(http.StatusBadGateway, gin.H{"success": false, "error_kind": result.ErrorKind, "message": "payment provider unavailable"})
		default:
			c.JSON(http.StatusBadGateway, result)
		}
		return
	}

	c.JSON(http.StatusOK, result)
}
