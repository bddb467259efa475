package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nimasrn/crm-inbox/internal/mediacrypto"
	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
)

var ErrNoMedia = errors.New("message has no downloadable media")

type MediaRepository interface {
	GetMedia(ctx context.Context, messageID int64) (*model.MessageMedia, error)
}

type MediaFetcher interface {
	FetchMedia(ctx context.Context, directPath, literalURL string) ([]byte, error)
}

// MediaFile is a decrypted attachment ready to be served. FileName is empty
// for content browsers render inline.
type MediaFile struct {
	Data        []byte
	ContentType string
	FileName    string
}

type MediaService struct {
	repo    MediaRepository
	fetcher MediaFetcher
}

func NewMediaService(repo MediaRepository, fetcher MediaFetcher) *MediaService {
	return &MediaService{repo: repo, fetcher: fetcher}
}

// Download fetches and decrypts the attachment of a message. Authentication
// failures surface as mediacrypto.ErrMediaAuthentication.
func (s *MediaService) Download(ctx context.Context, messageID int64) (*MediaFile, error) {
	media, data, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}

	ct := contentType(media)
	f := &MediaFile{Data: data, ContentType: ct}
	switch {
	case media.MediaType == "image" || media.MediaType == "sticker":
	case strings.HasPrefix(ct, "audio/"), strings.HasPrefix(ct, "video/"), strings.HasPrefix(ct, "image/"):
	default:
		f.FileName = "archivo.pdf"
		if media.FileName != nil && *media.FileName != "" {
			f.FileName = *media.FileName
		}
	}
	return f, nil
}

// Sticker always answers as webp whatever mime the provider reported.
func (s *MediaService) Sticker(ctx context.Context, messageID int64) (*MediaFile, error) {
	_, data, err := s.load(ctx, messageID)
	if err != nil {
		return nil, err
	}
	return &MediaFile{Data: data, ContentType: "image/webp"}, nil
}

func (s *MediaService) load(ctx context.Context, messageID int64) (*model.MessageMedia, []byte, error) {
	media, err := s.repo.GetMedia(ctx, messageID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if media.MediaKey == nil || *media.MediaKey == "" {
		return nil, nil, ErrNoMedia
	}

	var directPath, url string
	if media.DirectPath != nil {
		directPath = *media.DirectPath
	}
	if media.MediaURL != nil {
		url = *media.MediaURL
	}

	enc, err := s.fetcher.FetchMedia(ctx, directPath, url)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch media %d: %w", messageID, err)
	}
	plain, err := mediacrypto.Decrypt(enc, *media.MediaKey, media.MediaType)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt media %d: %w", messageID, err)
	}
	return media, plain, nil
}

func contentType(m *model.MessageMedia) string {
	switch mediacrypto.NormalizeType(m.MediaType) {
	case "image":
		return "image/jpeg"
	case "sticker":
		return "image/webp"
	case "document":
		if m.MimeType != nil && *m.MimeType != "" {
			return *m.MimeType
		}
		return "application/pdf"
	case "audio":
		return "audio/ogg"
	case "video":
		return "video/mp4"
	}
	return "image/jpeg"
}
