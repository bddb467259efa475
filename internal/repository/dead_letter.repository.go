package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"gorm.io/gorm"
)

type DeadLetterRepository struct {
	*pg.DB
}

func NewDeadLetterRepository(db *pg.DB) *DeadLetterRepository {
	return &DeadLetterRepository{
		db,
	}
}

// Create ignores cancellation of ctx so a failure caused by an aborted
// request is still recorded.
func (r *DeadLetterRepository) Create(ctx context.Context, dl *model.DeadLetter) (*model.DeadLetter, error) {
	if dl.OccurredUTC.IsZero() {
		dl.OccurredUTC = time.Now().UTC()
	}
	entity := &DeadLetterEntity{
		RawPayload:  dl.RawPayload,
		Error:       dl.Error,
		Source:      dl.Source,
		Reviewed:    dl.Reviewed,
		OccurredUTC: dl.OccurredUTC.UTC(),
	}
	if err := r.Write(context.WithoutCancel(ctx)).Create(entity).Error; err != nil {
		return nil, err
	}
	return toDeadLetterModel(entity), nil
}

func (r *DeadLetterRepository) GetByID(ctx context.Context, id int64) (*model.DeadLetter, error) {
	var entity DeadLetterEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toDeadLetterModel(&entity), nil
}

func (r *DeadLetterRepository) List(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetter, int64, error) {
	q := r.Read(ctx).Model(&DeadLetterEntity{})

	if f.Reviewed != nil {
		q = q.Where("reviewed = ?", *f.Reviewed)
	}
	if f.Source != nil && *f.Source != "" {
		q = q.Where("source = ?", *f.Source)
	}
	if f.From != nil {
		q = q.Where("occurred_utc >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("occurred_utc < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeadLetterEntity
	if err := q.Order("occurred_utc DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	items := make([]*model.DeadLetter, len(entities))
	for i, e := range entities {
		items[i] = toDeadLetterModel(e)
	}
	return items, total, nil
}

// MarkReviewed flags a dead letter as handled. Marking twice is not an error.
func (r *DeadLetterRepository) MarkReviewed(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&DeadLetterEntity{}).Where("id = ?", id).Update("reviewed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
