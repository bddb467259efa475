package repository

import (
	"context"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
)

type PipelineHistoryRepository struct {
	*pg.DB
}

func NewPipelineHistoryRepository(db *pg.DB) *PipelineHistoryRepository {
	return &PipelineHistoryRepository{
		db,
	}
}

// Append adds an audit row. Rows are never updated or deleted here.
func (r *PipelineHistoryRepository) Append(ctx context.Context, h *model.PipelineHistory) (*model.PipelineHistory, error) {
	if h.ChangedUTC.IsZero() {
		h.ChangedUTC = time.Now().UTC()
	}
	entity := &PipelineHistoryEntity{
		ThreadID:     h.ThreadID,
		PipelineName: h.PipelineName,
		StageName:    h.StageName,
		Source:       h.Source,
		ChangedUTC:   h.ChangedUTC.UTC(),
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toPipelineHistoryModel(entity), nil
}

func (r *PipelineHistoryRepository) ListByThread(ctx context.Context, threadID int64) ([]*model.PipelineHistory, error) {
	var entities []*PipelineHistoryEntity
	if err := r.Read(ctx).Where("thread_id = ?", threadID).Order("changed_utc").Order("id").Find(&entities).Error; err != nil {
		return nil, err
	}
	items := make([]*model.PipelineHistory, len(entities))
	for i, e := range entities {
		items[i] = toPipelineHistoryModel(e)
	}
	return items, nil
}
