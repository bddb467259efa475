package handlers

import (
	"context"
	"errors"
	"mime"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/mediacrypto"
	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/nimasrn/crm-inbox/pkg/logger"
)

type MediaService interface {
	Download(ctx context.Context, messageID int64) (*services.MediaFile, error)
	Sticker(ctx context.Context, messageID int64) (*services.MediaFile, error)
}

type MediaHandler struct {
	svc MediaService
}

func RegisterMediaRoutes(e *router.Group, h *MediaHandler) {
	e.GET("/media/{messageId}", h.Download)
	e.GET("/media/{messageId}/sticker", h.Sticker)
}

func NewMediaHandler(svc MediaService) *MediaHandler {
	return &MediaHandler{svc: svc}
}

func (h *MediaHandler) Download(ctx *xhttp.RequestCtx) {
	h.serve(ctx, h.svc.Download)
}

func (h *MediaHandler) Sticker(ctx *xhttp.RequestCtx) {
	h.serve(ctx, h.svc.Sticker)
}

func (h *MediaHandler) serve(ctx *xhttp.RequestCtx, load func(context.Context, int64) (*services.MediaFile, error)) {
	id, err := pathInt64(ctx, "messageId")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid message id")
		return
	}

	f, err := load(ctx, id)
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrNoMedia):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
		return
	case errors.Is(err, mediacrypto.ErrMediaAuthentication):
		logger.Warn("media failed authentication", "message_id", id)
		writeError(ctx, xhttp.StatusBadGateway, "media_authentication_failed")
		return
	case err != nil:
		logger.Error("media download failed", "message_id", id, "error", err)
		writeError(ctx, xhttp.StatusBadGateway, err.Error())
		return
	}

	ctx.SetContentType(f.ContentType)
	ctx.Response.Header.Set("Cache-Control", "private, max-age=86400")
	if f.FileName != "" {
		ctx.Response.Header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.FileName}))
	}
	ctx.SetStatusCode(xhttp.StatusOK)
	ctx.SetBody(f.Data)
}
