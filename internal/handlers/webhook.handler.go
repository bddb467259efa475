package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
)

const (
	HeaderWebhookToken = "X-Webhook-Token"
	HeaderSignature    = "X-Signature"
)

type IngestionService interface {
	Ingest(ctx context.Context, body []byte, remoteIP string) (*services.IngestResult, error)
}

type ControlService interface {
	Enabled(ctx context.Context) bool
	Set(ctx context.Context, enabled bool) (*model.WebhookControl, error)
	State(ctx context.Context) (*model.WebhookControl, error)
}

type Authenticator interface {
	Authenticate(remoteIP, token, signature string, body []byte) error
}

type WebhookHandler struct {
	ingest  IngestionService
	control ControlService
	auth    Authenticator
}

func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/evolution", h.Receive)
	e.GET("/webhooks/evolution/control", h.GetControl)
	e.PUT("/webhooks/evolution/control", h.SetControl)
}

func NewWebhookHandler(ingest IngestionService, control ControlService, auth Authenticator) *WebhookHandler {
	return &WebhookHandler{ingest: ingest, control: control, auth: auth}
}

type controlRequest struct {
	Enabled *bool `json:"enabled"`
}

// Receive answers 200 for everything except rejected callers and a full
// enqueue failure, so the provider only retries when retrying can help.
func (h *WebhookHandler) Receive(ctx *xhttp.RequestCtx) {
	if !h.control.Enabled(ctx) {
		prom.IncWebhookDelivery(string(services.IngestDisabled))
		writeJSON(ctx, xhttp.StatusOK, services.IngestResult{Status: services.IngestDisabled})
		return
	}

	ip := xhttp.ClientIP(ctx)
	body := ctx.PostBody()
	if h.auth != nil {
		token := string(ctx.Request.Header.Peek(HeaderWebhookToken))
		sig := string(ctx.Request.Header.Peek(HeaderSignature))
		if err := h.auth.Authenticate(ip, token, sig, body); err != nil {
			logger.Warn("webhook rejected", "ip", ip, "error", err)
			prom.IncWebhookDelivery("rejected")
			writeError(ctx, xhttp.StatusUnauthorized, err.Error())
			return
		}
	}

	res, err := h.ingest.Ingest(ctx, body, ip)
	if err != nil {
		if errors.Is(err, services.ErrEnqueueFailed) {
			writeError(ctx, xhttp.StatusInternalServerError, "enqueue_failed")
			return
		}
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}

func (h *WebhookHandler) GetControl(ctx *xhttp.RequestCtx) {
	c, err := h.control.State(ctx)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, c)
}

func (h *WebhookHandler) SetControl(ctx *xhttp.RequestCtx) {
	var req controlRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Enabled == nil {
		writeError(ctx, xhttp.StatusBadRequest, "enabled is required")
		return
	}
	c, err := h.control.Set(ctx, *req.Enabled)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, c)
}
