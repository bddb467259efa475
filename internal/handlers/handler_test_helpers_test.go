package handlers

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/nimasrn/crm-inbox/internal/services"
	xhttp "github.com/nimasrn/crm-inbox/pkg/http"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	var req fasthttp.Request
	req.Header.SetMethod(method)
	req.SetRequestURI(path)
	if body != nil {
		req.SetBody(body)
	}
	ctx := &fasthttp.RequestCtx{}
	ctx.Init(&req, nil, nil)
	return ctx
}

func decodeError(t *testing.T, ctx *xhttp.RequestCtx) string {
	t.Helper()
	var response map[string]string
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), &response))
	return response["error"]
}

func hexSign(secret, body string) string {
	return hex.EncodeToString(services.Sign([]byte(secret), []byte(body)))
}
