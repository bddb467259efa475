package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nimasrn/crm-inbox/internal/mediacrypto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SendTextRequest mirrors the provider's sendText body
type SendTextRequest struct {
	Number      string `json:"number" binding:"required"`
	Text        string `json:"text" binding:"required"`
	Delay       int    `json:"delay"`
	LinkPreview bool   `json:"linkPreview"`
}

type MessageKey struct {
	RemoteJid string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// SendTextResponse is what the provider answers after accepting a send
type SendTextResponse struct {
	Key              MessageKey        `json:"key"`
	Message          map[string]string `json:"message"`
	MessageTimestamp int64             `json:"messageTimestamp"`
	Status           string            `json:"status"`
}

// UploadResponse describes an encrypted attachment hosted by the mock
type UploadResponse struct {
	MediaType  string `json:"mediaType"`
	DirectPath string `json:"directPath"`
	URL        string `json:"url"`
	MediaKey   string `json:"mediaKey"`
	FileLength int    `json:"fileLength"`
}

type HealthResponse struct {
	Status       string    `json:"status"`
	Instance     string    `json:"instance"`
	Timestamp    time.Time `json:"timestamp"`
	DeliveryRate float64   `json:"delivery_rate"`
	Sent         int       `json:"sent"`
}

// MockProvider simulates the messaging provider: outbound text, a media CDN
// with encrypted blobs and webhook deliveries towards the CRM.
type MockProvider struct {
	mu           sync.RWMutex
	apiKey       string
	instance     string
	publicURL    string
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	rng          *rand.Rand
	blobs        map[string][]byte
	sent         []SendTextResponse

	webhookURL    string
	webhookSecret string
	webhookToken  string
	client        *http.Client
}

func NewMockProvider(apiKey, instance, publicURL string, deliveryRate float64, minDelay, maxDelay time.Duration) *MockProvider {
	return &MockProvider{
		apiKey:       apiKey,
		instance:     instance,
		publicURL:    strings.TrimRight(publicURL, "/"),
		deliveryRate: deliveryRate,
		minDelay:     minDelay,
		maxDelay:     maxDelay,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		blobs:        make(map[string][]byte),
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

func (m *MockProvider) randomDelay() time.Duration {
	delta := m.maxDelay - m.minDelay
	if delta <= 0 {
		return m.minDelay
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minDelay + time.Duration(m.rng.Int63n(int64(delta)))
}

func (m *MockProvider) shouldSucceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.deliveryRate
}

func (m *MockProvider) send(req *SendTextRequest) SendTextResponse {
	resp := SendTextResponse{
		Key: MessageKey{
			RemoteJid: req.Number + "@s.whatsapp.net",
			FromMe:    true,
			ID:        strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:20],
		},
		Message:          map[string]string{"conversation": req.Text},
		MessageTimestamp: time.Now().Unix(),
		Status:           "PENDING",
	}
	m.mu.Lock()
	m.sent = append(m.sent, resp)
	m.mu.Unlock()
	return resp
}

// host stores plaintext encrypted under a fresh media key and returns where
// the ciphertext can be fetched.
func (m *MockProvider) host(mediaType string, plain []byte) (*UploadResponse, error) {
	key, err := mediacrypto.NewMediaKey()
	if err != nil {
		return nil, err
	}
	enc, err := mediacrypto.Encrypt(plain, key, mediaType)
	if err != nil {
		return nil, err
	}
	directPath := fmt.Sprintf("/v/t62.%s/%s.enc", mediacrypto.NormalizeType(mediaType), uuid.NewString())

	m.mu.Lock()
	m.blobs[directPath] = enc
	m.mu.Unlock()

	return &UploadResponse{
		MediaType:  mediacrypto.NormalizeType(mediaType),
		DirectPath: directPath,
		URL:        m.publicURL + directPath,
		MediaKey:   key,
		FileLength: len(plain),
	}, nil
}

func (m *MockProvider) blob(directPath string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[directPath]
	return b, ok
}

// deliver posts a webhook payload to the CRM, signed the way the CRM
// verifies it when a secret is configured.
func (m *MockProvider) deliver(ctx context.Context, payload []byte) (int, error) {
	if m.webhookURL == "" {
		return 0, fmt.Errorf("WEBHOOK_URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if m.webhookToken != "" {
		req.Header.Set("X-Webhook-Token", m.webhookToken)
	}
	if m.webhookSecret != "" {
		mac := hmac.New(sha256.New, []byte(m.webhookSecret))
		mac.Write(payload)
		req.Header.Set("X-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// Handler struct holds the mock provider and routes
type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

func (h *Handler) requireAPIKey(c *gin.Context) {
	if h.provider.apiKey != "" && c.GetHeader("apikey") != h.provider.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

// SendText handles POST /message/sendText/:instance
func (h *Handler) SendText(c *gin.Context) {
	if c.Param("instance") != h.provider.instance {
		c.JSON(http.StatusNotFound, gin.H{"error": "instance not found", "instance": c.Param("instance")})
		return
	}

	var req SendTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	delay := h.provider.randomDelay()
	time.Sleep(delay)

	if !h.provider.shouldSucceed() {
		log.Warn().Str("number", req.Number).Dur("delay", delay).Msg("Send rejected")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Connection Closed"})
		return
	}

	resp := h.provider.send(&req)
	log.Info().
		Str("number", req.Number).
		Str("id", resp.Key.ID).
		Dur("delay", delay).
		Msg("Text accepted")

	c.JSON(http.StatusCreated, resp)
}

// Upload handles POST /media/:type, the raw request body is the plaintext
func (h *Handler) Upload(c *gin.Context) {
	plain, err := io.ReadAll(c.Request.Body)
	if err != nil || len(plain) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty body"})
		return
	}
	resp, err := h.provider.host(c.Param("type"), plain)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	log.Info().Str("direct_path", resp.DirectPath).Int("bytes", len(plain)).Msg("Media hosted")
	c.JSON(http.StatusCreated, resp)
}

// Download serves ciphertext by direct path, like the CDN does
func (h *Handler) Download(c *gin.Context) {
	b, ok := h.provider.blob(c.Request.URL.Path)
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", b)
}

// Emit forwards the request body to the CRM webhook
func (h *Handler) Emit(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil || !json.Valid(payload) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON webhook payload"})
		return
	}
	status, err := h.provider.deliver(c.Request.Context(), payload)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"crm_status": status})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	h.provider.mu.RLock()
	defer h.provider.mu.RUnlock()
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "healthy",
		Instance:     h.provider.instance,
		Timestamp:    time.Now(),
		DeliveryRate: h.provider.deliveryRate,
		Sent:         len(h.provider.sent),
	})
}

// UpdateConfig allows changing the delivery rate at runtime
func (h *Handler) UpdateConfig(c *gin.Context) {
	var config struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}

	if err := c.ShouldBindJSON(&config); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	h.provider.mu.Lock()
	if config.DeliveryRate != nil && *config.DeliveryRate >= 0 && *config.DeliveryRate <= 1.0 {
		h.provider.deliveryRate = *config.DeliveryRate
		log.Info().Float64("rate", *config.DeliveryRate).Msg("Updated delivery rate")
	}
	rate := h.provider.deliveryRate
	h.provider.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"delivery_rate": rate})
}

// SetupRouter configures all routes
func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	api := router.Group("/", handler.requireAPIKey)
	{
		api.POST("/message/sendText/:instance", handler.SendText)
		api.POST("/media/:type", handler.Upload)
		api.POST("/webhook/emit", handler.Emit)
		api.PUT("/config", handler.UpdateConfig)
	}

	router.GET("/v/*path", handler.Download)
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	provider := NewMockProvider(
		getEnv("API_KEY", ""),
		getEnv("INSTANCE", "ventas"),
		getEnv("PUBLIC_URL", "http://localhost:"+port),
		getEnvFloat("DELIVERY_RATE", 1),
		getEnvDuration("MIN_DELAY", 50*time.Millisecond),
		getEnvDuration("MAX_DELAY", 300*time.Millisecond),
	)
	provider.webhookURL = getEnv("WEBHOOK_URL", "")
	provider.webhookToken = getEnv("WEBHOOK_TOKEN", "")
	provider.webhookSecret = getEnv("WEBHOOK_SECRET", "")

	log.Info().
		Str("port", port).
		Str("instance", provider.instance).
		Float64("delivery_rate", provider.deliveryRate).
		Str("webhook_url", provider.webhookURL).
		Msg("Starting mock provider")

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      SetupRouter(NewHandler(provider)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
