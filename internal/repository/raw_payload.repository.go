package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"gorm.io/gorm"
)

type RawPayloadRepository struct {
	*pg.DB
}

func NewRawPayloadRepository(db *pg.DB) *RawPayloadRepository {
	return &RawPayloadRepository{
		db,
	}
}

func (r *RawPayloadRepository) Create(ctx context.Context, p *model.RawPayload) (*model.RawPayload, error) {
	entity := toRawPayloadEntity(p)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toRawPayloadModel(entity), nil
}

func (r *RawPayloadRepository) MarkProcessed(ctx context.Context, id int64, notes *string) error {
	updates := map[string]any{"processed": true}
	if notes != nil {
		updates["notes"] = *notes
	}
	return r.Write(ctx).Model(&RawPayloadEntity{}).Where("id = ?", id).Updates(updates).Error
}

func (r *RawPayloadRepository) GetByID(ctx context.Context, id int64) (*model.RawPayload, error) {
	var entity RawPayloadEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toRawPayloadModel(&entity), nil
}

func (r *RawPayloadRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.Read(ctx).Model(&RawPayloadEntity{}).Count(&count).Error
	return count, err
}
