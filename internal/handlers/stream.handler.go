package handlers

import (
	"bufio"
	"fmt"
	"time"

	"github.com/fasthttp/router"
	"github.com/nimasrn/crm-inbox/internal/fanout"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/nimasrn/crm-inbox/pkg/logger"
)

const DefaultHeartbeat = 15 * time.Second

type Subscriber interface {
	Subscribe(accountID string) *fanout.Subscription
	Unsubscribe(sub *fanout.Subscription)
}

// StreamHandler pushes inbox events of one business account to a browser
// over server-sent events.
type StreamHandler struct {
	hub       Subscriber
	heartbeat time.Duration
}

func RegisterStreamRoutes(e *router.Group, h *StreamHandler) {
	e.GET("/inbox/stream", h.Stream)
}

func NewStreamHandler(hub Subscriber, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{hub: hub, heartbeat: heartbeat}
}

func (h *StreamHandler) Stream(ctx *xhttp.RequestCtx) {
	account := query(ctx, "account")
	if account == "" {
		writeError(ctx, xhttp.StatusBadRequest, "account is required")
		return
	}

	sub := h.hub.Subscribe(account)
	// the request ctx is gone once the stream writer runs
	done := ctx.Done()
	conn := ctx.Conn()
	heartbeat := h.heartbeat

	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.Response.Header.Set("X-Accel-Buffering", "no")
	ctx.SetStatusCode(xhttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)
		logger.Debug("stream subscriber connected", "account", account, "subscription", sub.ID)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		write := func(frame string) bool {
			if conn != nil {
				_ = conn.SetWriteDeadline(time.Now().Add(2 * heartbeat))
			}
			if _, err := w.WriteString(frame); err != nil {
				return false
			}
			return w.Flush() == nil
		}

		if !write("retry: 3000\n\n") {
			return
		}
		for {
			select {
			case payload, ok := <-sub.C:
				if !ok {
					return
				}
				if !write(fmt.Sprintf("event: inbox\ndata: %s\n\n", payload)) {
					logger.Debug("stream subscriber gone", "account", account, "subscription", sub.ID)
					return
				}
			case <-ticker.C:
				if !write(": ping\n\n") {
					return
				}
			case <-done:
				return
			}
		}
	})
}
