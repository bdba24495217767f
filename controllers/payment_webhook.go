package controllers

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/mktdigital/marketplace-backend/gateway"
	"github.com/mktdigital/marketplace-backend/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProviderCallback receives the gateway's asynchronous payment outcome. The
// gateway retries on anything but success, so every processing failure is
// logged and swallowed: this endpoint acknowledges no matter what happened
// inside reconciliation.
func (pc *PaymentController) ProviderCallback(c *gin.Context) {
	raw := pc.callbackDocument(c)
	if raw == "" {
		pc.Logger.Warn("callback without document",
			zap.String("client_ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
		)
		pc.acknowledge(c)
		return
	}

	callback, err := gateway.ParseCallback(raw)
	if err != nil {
		pc.Logger.Error("unparseable provider callback",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err),
		)
		pc.acknowledge(c)
		return
	}

	outcome, err := pc.Reconciler.Reconcile(c.Request.Context(), &services.ReconcileInput{
		Callback:  callback,
		Raw:       raw,
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		pc.Logger.Error("reconciliation failed",
			zap.Strings("references", callback.References()),
			zap.Error(err),
		)
		pc.acknowledge(c)
		return
	}

	fields := []zap.Field{
		zap.String("reference", outcome.Response.Reference),
		zap.String("status", outcome.Response.Status),
		zap.String("match", outcome.Match),
		zap.Bool("duplicate", outcome.Duplicate),
	}
	if outcome.Order != nil {
		fields = append(fields, zap.String("order_id", outcome.Order.ID.String()))
	}
	pc.Logger.Info("callback reconciled", fields...)

	pc.acknowledge(c)
}

// callbackDocument extracts the response document: raw body first, then the
// xml form field or query parameter. The gateway delivers via GET or POST
// depending on integration mode.
func (pc *PaymentController) callbackDocument(c *gin.Context) string {
	if c.Request.Method == http.MethodPost {
		if body, err := io.ReadAll(c.Request.Body); err == nil && len(body) > 0 {
			// A form-encoded body is not the document itself.
			if c.ContentType() != "application/x-www-form-urlencoded" {
				return string(body)
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		if xml := c.PostForm("xml"); xml != "" {
			return xml
		}
	}
	return c.Query("xml")
}

// acknowledge always reports success to the gateway.
func (pc *PaymentController) acknowledge(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// PaymentStatus returns the current known status for a transaction reference
// without side effects.
func (pc *PaymentController) PaymentStatus(c *gin.Context) {
	reference := c.Param("reference")

	response, err := pc.Responses.LatestByReference(c.Request.Context(), reference)
	if err != nil {
		pc.Logger.Error("failed to query payment status", zap.String("reference", reference), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query status"})
		return
	}
	if response == nil {
		c.JSON(http.StatusOK, gin.H{"reference": reference, "status": "unknown"})
		return
	}

	body := gin.H{"reference": reference, "status": response.Status}
	if response.OrderID != nil {
		body["order_id"] = response.OrderID.String()
	}
	c.JSON(http.StatusOK, body)
}

// ServeSession returns the stored redirect form byte-identical to what was
// generated at initiation, or 404 once the session expired.
func (pc *PaymentController) ServeSession(c *gin.Context) {
	reference := c.Param("reference")

	session, err := pc.Sessions.FindByReference(c.Request.Context(), reference, time.Now())
	if err != nil {
		pc.Logger.Error("failed to load payment session", zap.String("reference", reference), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load session"})
		return
	}
	if session == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(session.FormHTML))
}

// ListResponses exposes the callback audit trail for a reference.
func (pc *PaymentController) ListResponses(c *gin.Context) {
	reference := c.Param("reference")

	responses, err := pc.Responses.FindByReference(c.Request.Context(), reference)
	if err != nil {
		pc.Logger.Error("failed to list payment responses", zap.String("reference", reference), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list responses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": reference, "responses": responses})
}
