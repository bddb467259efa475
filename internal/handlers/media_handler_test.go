package handlers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/nimasrn/crm-inbox/internal/mediacrypto"
	"github.com/nimasrn/crm-inbox/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockMediaService struct {
	mock.Mock
}

func (m *MockMediaService) Download(ctx context.Context, messageID int64) (*services.MediaFile, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MediaFile), args.Error(1)
}

func (m *MockMediaService) Sticker(ctx context.Context, messageID int64) (*services.MediaFile, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.MediaFile), args.Error(1)
}

func TestMediaHandler_Download(t *testing.T) {
	t.Run("inline image", func(t *testing.T) {
		svc := new(MockMediaService)
		handler := NewMediaHandler(svc)
		svc.On("Download", mock.Anything, int64(5)).Return(&services.MediaFile{Data: []byte("jpeg"), ContentType: "image/jpeg"}, nil)

		ctx := setupTestContext("GET", "/api/v1/media/5", nil)
		ctx.SetUserValue("messageId", "5")
		handler.Download(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Equal(t, "image/jpeg", string(ctx.Response.Header.ContentType()))
		assert.Empty(t, ctx.Response.Header.Peek("Content-Disposition"))
		assert.Equal(t, []byte("jpeg"), ctx.Response.Body())
	})

	t.Run("document attachment", func(t *testing.T) {
		svc := new(MockMediaService)
		handler := NewMediaHandler(svc)
		svc.On("Download", mock.Anything, int64(6)).
			Return(&services.MediaFile{Data: []byte("%PDF"), ContentType: "application/pdf", FileName: "cotización.pdf"}, nil)

		ctx := setupTestContext("GET", "/api/v1/media/6", nil)
		ctx.SetUserValue("messageId", "6")
		handler.Download(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())
		assert.Contains(t, string(ctx.Response.Header.Peek("Content-Disposition")), "attachment")
	})

	tests := []struct {
		name string
		err  error
		code int
	}{
		{"missing message", services.ErrNotFound, 404},
		{"no media key", services.ErrNoMedia, 404},
		{"bad mac", fmt.Errorf("decrypt media 7: %w", mediacrypto.ErrMediaAuthentication), 502},
		{"cdn down", errors.New("fetch media 7: timeout"), 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockMediaService)
			handler := NewMediaHandler(svc)
			svc.On("Download", mock.Anything, int64(7)).Return(nil, tt.err)

			ctx := setupTestContext("GET", "/api/v1/media/7", nil)
			ctx.SetUserValue("messageId", "7")
			handler.Download(ctx)

			assert.Equal(t, tt.code, ctx.Response.StatusCode())
		})
	}
}

func TestMediaHandler_Sticker(t *testing.T) {
	svc := new(MockMediaService)
	handler := NewMediaHandler(svc)
	svc.On("Sticker", mock.Anything, int64(8)).Return(&services.MediaFile{Data: []byte("RIFF"), ContentType: "image/webp"}, nil)

	ctx := setupTestContext("GET", "/api/v1/media/8/sticker", nil)
	ctx.SetUserValue("messageId", "8")
	handler.Sticker(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())
	assert.Equal(t, "image/webp", string(ctx.Response.Header.ContentType()))
}
