package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/nimasrn/crm-inbox/internal/services"
	"github.com/stretchr/testify/assert"
)

type pinger func(context.Context) error

func (p pinger) Ping(ctx context.Context) error { return p(ctx) }

func TestHealthHandler(t *testing.T) {
	ok := services.NewHealthService(nil, 0).Register("database", pinger(func(context.Context) error { return nil }))
	ctx := setupTestContext("GET", "/api/v1/health", nil)
	NewHealthHandler(ok).GetHealth(ctx)
	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"database":"up"`)

	down := services.NewHealthService(nil, 0).Register("redis", pinger(func(context.Context) error { return errors.New("refused") }))
	ctx = setupTestContext("GET", "/api/v1/health", nil)
	NewHealthHandler(down).GetHealth(ctx)
	assert.Equal(t, 503, ctx.Response.StatusCode())
	assert.Contains(t, string(ctx.Response.Body()), `"status":"degraded"`)
}
