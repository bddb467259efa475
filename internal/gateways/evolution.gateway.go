package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"github.com/nimasrn/crm-inbox/pkg/logger"
	"github.com/nimasrn/crm-inbox/pkg/prom"
)

var (
	ErrNotConfigured   = errors.New("provider api is not configured")
	ErrMissingID       = errors.New("provider response carries no message id")
	ErrUnexpectedState = errors.New("unexpected status code")
)

// SendTextRequest is the body of the provider's sendText call.
type SendTextRequest struct {
	Number      string `json:"number"`
	Text        string `json:"text"`
	Delay       int    `json:"delay"`
	LinkPreview bool   `json:"linkPreview"`
}

type SendTextResponse struct {
	ExternalID string
	RemoteJid  string
	Status     string
}

type sendTextReply struct {
	Key *struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
	Data   *struct {
		Key *struct {
			RemoteJid string `json:"remoteJid"`
			ID        string `json:"id"`
		} `json:"key"`
	} `json:"data"`
}

type Config struct {
	BaseURL         string
	APIKey          string
	Instance        string
	Timeout         time.Duration
	SendDelay       time.Duration
	MediaHost       string
	UserAgent       string
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
	// Dial overrides the transport, used by tests with in-memory listeners.
	Dial func(addr string) (net.Conn, error)
}

// Client talks to the messaging provider: outbound text and media CDN reads.
type Client struct {
	config  *Config
	http    *fasthttp.Client
	metrics *ProviderMetrics
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 8192
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = 4096
	}

	client := &Client{
		config: config,
		http: &fasthttp.Client{
			Name:                     config.UserAgent,
			MaxConnsPerHost:          config.MaxConns,
			ReadTimeout:              config.Timeout,
			WriteTimeout:             config.Timeout,
			MaxIdleConnDuration:      60 * time.Second,
			ReadBufferSize:           config.ReadBufferSize,
			WriteBufferSize:          config.WriteBufferSize,
			MaxResponseBodySize:      100 << 20,
			NoDefaultUserAgentHeader: config.UserAgent == "",
			Dial:                     config.Dial,
		},
		metrics: NewProviderMetrics(),
	}

	logger.Info("Provider client initialized", "url", config.BaseURL, "instance", config.Instance, "timeout", config.Timeout)

	return client, nil
}

// SendText sends an agent-authored text and returns the provider message id.
// Retries are left to the caller.
func (c *Client) SendText(ctx context.Context, number, text string) (*SendTextResponse, error) {
	if c.config.BaseURL == "" || c.config.Instance == "" {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(&SendTextRequest{
		Number:      number,
		Text:        text,
		Delay:       int(c.config.SendDelay / time.Millisecond),
		LinkPreview: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshal send request")
	}

	path := fmt.Sprintf("/message/sendText/%s", c.config.Instance)
	startTime := time.Now()
	response, err := c.doRequest(ctx, fasthttp.MethodPost, strings.TrimRight(c.config.BaseURL, "/")+path, body, true)
	latency := time.Since(startTime)

	if err != nil {
		c.metrics.RecordFailure()
		prom.ObserveProviderLatency(latency.Seconds(), "send_text", "error")
		logger.Warn("Provider send failed", "error", err, "number", number)
		return nil, err
	}
	c.metrics.RecordSuccess(latency.Milliseconds())
	prom.ObserveProviderLatency(latency.Seconds(), "send_text", "ok")

	var reply sendTextReply
	if err := json.Unmarshal(response, &reply); err != nil {
		return nil, errors.Wrap(err, "unmarshal send response")
	}

	resp := &SendTextResponse{Status: reply.Status}
	switch {
	case reply.Key != nil && reply.Key.ID != "":
		resp.ExternalID, resp.RemoteJid = reply.Key.ID, reply.Key.RemoteJid
	case reply.Data != nil && reply.Data.Key != nil && reply.Data.Key.ID != "":
		resp.ExternalID, resp.RemoteJid = reply.Data.Key.ID, reply.Data.Key.RemoteJid
	default:
		return nil, ErrMissingID
	}

	logger.Info("Text sent to provider", "external_id", resp.ExternalID, "latency_ms", latency.Milliseconds())

	return resp, nil
}

// FetchMedia downloads an encrypted attachment. The direct path against the
// media host is tried first; the literal url is tried once after that.
func (c *Client) FetchMedia(ctx context.Context, directPath, literalURL string) ([]byte, error) {
	var candidates []string
	if directPath != "" {
		candidates = append(candidates, strings.TrimRight(c.config.MediaHost, "/")+directPath)
	}
	if literalURL != "" && (len(candidates) == 0 || candidates[0] != literalURL) {
		candidates = append(candidates, literalURL)
	}
	if len(candidates) == 0 {
		return nil, errors.New("media has neither direct path nor url")
	}

	var lastErr error
	for i, url := range candidates {
		startTime := time.Now()
		body, err := c.doRequest(ctx, fasthttp.MethodGet, url, nil, false)
		latency := time.Since(startTime)
		if err == nil {
			c.metrics.RecordSuccess(latency.Milliseconds())
			prom.ObserveProviderLatency(latency.Seconds(), "fetch_media", "ok")
			return body, nil
		}

		c.metrics.RecordFailure()
		prom.ObserveProviderLatency(latency.Seconds(), "fetch_media", "error")
		logger.Warn("Media fetch failed", "error", err, "attempt", i+1, "url", url)
		lastErr = err
	}

	return nil, errors.Wrapf(lastErr, "media fetch failed after %d sources", len(candidates))
}

func (c *Client) Stats() ProviderStats {
	m := c.metrics
	return ProviderStats{
		Name:             c.config.Instance,
		URL:              c.config.BaseURL,
		TotalRequests:    m.TotalRequests.Load(),
		SuccessfulReqs:   m.SuccessfulReqs.Load(),
		FailedReqs:       m.FailedReqs.Load(),
		SuccessRate:      m.SuccessRate(),
		AvgLatencyMs:     m.AvgLatencyMs(),
		P95LatencyMs:     m.P95LatencyMs(),
		LastLatencyMs:    m.LastLatencyMs.Load(),
		ConsecutiveFails: m.ConsecutiveFails.Load(),
	}
}

// doRequest performs HTTP request with timeout
func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, api bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if c.config.UserAgent != "" {
		req.Header.SetUserAgent(c.config.UserAgent)
	}
	if api {
		req.Header.SetContentType("application/json")
		req.Header.Set("apikey", c.config.APIKey)
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.config.Timeout)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return nil, errors.Wrap(err, "request failed")
	}

	statusCode := resp.StatusCode()
	if statusCode < 200 || statusCode > 299 {
		return nil, errors.Wrapf(ErrUnexpectedState, "%d, body: %.256s", statusCode, resp.Body())
	}

	result := make([]byte, len(resp.Body()))
	copy(result, resp.Body())

	return result, nil
}
