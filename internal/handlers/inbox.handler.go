package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
)

type InboxService interface {
	Counts(ctx context.Context, user string) (*model.InboxCounts, error)
	List(ctx context.Context, f model.ThreadFilter) ([]*model.Thread, int64, error)
	Thread(ctx context.Context, id int64, limit int) (*model.ThreadWithMessages, error)
	Assign(ctx context.Context, id int64, user string) error
	MarkRead(ctx context.Context, id int64) error
	Send(ctx context.Context, req model.SendMessageRequest) (*model.Message, error)
}

type InboxHandler struct {
	svc InboxService
}

func RegisterInboxRoutes(e *router.Group, h *InboxHandler) {
	e.GET("/inbox/counts", h.Counts)
	e.GET("/inbox/threads", h.ListThreads)
	e.GET("/inbox/threads/{id}", h.GetThread)
	e.POST("/inbox/threads/{id}/assign", h.Assign)
	e.POST("/inbox/threads/{id}/read", h.MarkRead)
	e.POST("/inbox/threads/{id}/messages", h.SendMessage)
}

func NewInboxHandler(svc InboxService) *InboxHandler {
	return &InboxHandler{svc: svc}
}

type assignRequest struct {
	User string `json:"user"`
}

func (h *InboxHandler) Counts(ctx *xhttp.RequestCtx) {
	counts, err := h.svc.Counts(ctx, query(ctx, "user"))
	if err != nil {
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, counts)
}

func (h *InboxHandler) ListThreads(ctx *xhttp.RequestCtx) {
	f := model.ThreadFilter{
		Filter:      model.ThreadListFilter(query(ctx, "filter")),
		CurrentUser: query(ctx, "user"),
		Search:      query(ctx, "search"),
		Limit:       queryInt(ctx, "limit"),
		Offset:      queryInt(ctx, "offset"),
	}

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	writeJSON(ctx, xhttp.StatusOK, listResponse[*model.Thread]{Items: items, Total: total})
}

func (h *InboxHandler) GetThread(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid thread id")
		return
	}
	t, err := h.svc.Thread(ctx, id, queryInt(ctx, "limit"))
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, t)
}

func (h *InboxHandler) Assign(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid thread id")
		return
	}
	var req assignRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := h.svc.Assign(ctx, id, req.User); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

func (h *InboxHandler) MarkRead(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid thread id")
		return
	}
	if err := h.svc.MarkRead(ctx, id); err != nil {
		h.fail(ctx, err)
		return
	}
	ctx.SetStatusCode(xhttp.StatusNoContent)
}

func (h *InboxHandler) SendMessage(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid thread id")
		return
	}
	var req model.SendMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.ThreadID = id
	req.Text = strings.TrimSpace(req.Text)
	if err := req.Validate(); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.svc.Send(ctx, req)
	if err != nil {
		h.fail(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, msg)
}

func (h *InboxHandler) fail(ctx *xhttp.RequestCtx, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrThreadNotDialable), errors.Is(err, services.ErrInvalidMobile):
		writeError(ctx, xhttp.StatusUnprocessable, err.Error())
	case errors.Is(err, services.ErrSendFailed):
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, xhttp.StatusRequestTimeout, err.Error())
	default:
		writeError(ctx, xhttp.StatusInternalServerError, err.Error())
	}
}
