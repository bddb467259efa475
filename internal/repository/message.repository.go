package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"gorm.io/gorm"
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

// Create inserts the message and, when present, its media row.
func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)

	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// Exists reports whether the thread already holds the delivery, matched by
// provider id when given or by content hash.
func (r *MessageRepository) Exists(ctx context.Context, threadID int64, externalID, rawHash string) (bool, error) {
	q := r.Read(ctx).Model(&MessageEntity{}).Where("thread_id = ?", threadID)
	if externalID != "" {
		q = q.Where("(external_id = ? OR raw_hash = ?)", externalID, rawHash)
	} else {
		q = q.Where("raw_hash = ?", rawHash)
	}

	var count int64
	if err := q.Limit(1).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *MessageRepository) FindByExternalID(ctx context.Context, threadID int64, externalID string) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).
		Where("thread_id = ? AND external_id = ?", threadID, externalID).
		Order("id").
		First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// SetReaction sets, or clears with nil, the only mutable column of a message.
func (r *MessageRepository) SetReaction(ctx context.Context, id int64, reaction *string) error {
	res := r.Write(ctx).Model(&MessageEntity{}).Where("id = ?", id).Update("reaction", reaction)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*model.Message, error) {
	var entity MessageEntity
	err := r.Read(ctx).Preload("Media").Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageModel(&entity), nil
}

// ListByThread returns the newest limit messages in chronological order.
func (r *MessageRepository) ListByThread(ctx context.Context, threadID int64, limit int) ([]*model.Message, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}

	var entities []*MessageEntity
	err := r.Read(ctx).Preload("Media").
		Where("thread_id = ?", threadID).
		Order("timestamp_utc DESC").Order("id DESC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(entities)-1; i < j; i, j = i+1, j-1 {
		entities[i], entities[j] = entities[j], entities[i]
	}
	return toMessageModels(entities), nil
}

func (r *MessageRepository) CountByThread(ctx context.Context, threadID int64) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&MessageEntity{}).Where("thread_id = ?", threadID).Count(&count).Error
	return count, err
}

func (r *MessageRepository) GetMedia(ctx context.Context, messageID int64) (*model.MessageMedia, error) {
	var entity MessageMediaEntity
	err := r.Read(ctx).Where("message_id = ?", messageID).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toMessageMediaModel(&entity), nil
}
