package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type WebhookControlRepository struct {
	*pg.DB
}

func NewWebhookControlRepository(db *pg.DB) *WebhookControlRepository {
	return &WebhookControlRepository{
		db,
	}
}

func (r *WebhookControlRepository) Get(ctx context.Context, name string) (*model.WebhookControl, error) {
	var entity WebhookControlEntity
	err := r.Read(ctx).Where("name = ?", name).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &model.WebhookControl{Name: entity.Name, Enabled: entity.Enabled, UpdatedUTC: entity.UpdatedUTC.UTC()}, nil
}

func (r *WebhookControlRepository) Upsert(ctx context.Context, name string, enabled bool) (*model.WebhookControl, error) {
	entity := &WebhookControlEntity{Name: name, Enabled: enabled, UpdatedUTC: time.Now().UTC()}
	err := r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_utc"}),
	}).Create(entity).Error
	if err != nil {
		return nil, err
	}
	return &model.WebhookControl{Name: entity.Name, Enabled: entity.Enabled, UpdatedUTC: entity.UpdatedUTC}, nil
}
