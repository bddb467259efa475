package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
)

type DeadLetterService interface {
	List(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetter, int64, error)
	Get(ctx context.Context, id int64) (*model.DeadLetter, error)
	MarkReviewed(ctx context.Context, id int64) error
}

type DeadLetterHandler struct {
	svc DeadLetterService
}

func RegisterDeadLetterRoutes(e *router.Group, h *DeadLetterHandler) {
	e.GET("/dead-letters", h.List)
	e.GET("/dead-letters/{id}", h.Get)
	e.POST("/dead-letters/{id}/review", h.Review)
}

func NewDeadLetterHandler(svc DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{svc: svc}
}

func (h *DeadLetterHandler) List(ctx *xhttp.RequestCtx) {
	var f model.DeadLetterFilter

	if v := query(ctx, "reviewed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "reviewed must be true or false")
			return
		}
		f.Reviewed = &b
	}
	if v := query(ctx, "source"); v != "" {
		f.Source = &v
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	f.Limit = queryInt(ctx, "limit")
	f.Offset = queryInt(ctx, "offset")

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.DeadLetter]{Items: items, Total: total})
}

func (h *DeadLetterHandler) Get(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid dead letter id")
		return
	}
	dl, err := h.svc.Get(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		writeError(ctx, xhttp.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, dl)
}

func (h *DeadLetterHandler) Review(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid dead letter id")
		return
	}
	err = h.svc.MarkReviewed(ctx, id)
	if errors.Is(err, services.ErrNotFound) {
		writeError(ctx, xhttp.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}
