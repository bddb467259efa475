package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
)

type HealthService interface {
	Check(ctx context.Context) *services.HealthStatus
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	st := h.svc.Check(ctx)
	status := xhttp.StatusOK
	if st.Status != "ok" {
		status = xhttp.StatusServiceUnavailable
	}
	writeJSON(ctx, status, st)
}
