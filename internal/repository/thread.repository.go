package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/pkg/pg"
	"gorm.io/gorm"
)

type ThreadRepository struct {
	*pg.DB
}

func NewThreadRepository(db *pg.DB) *ThreadRepository {
	return &ThreadRepository{
		db,
	}
}

func (r *ThreadRepository) Create(ctx context.Context, t *model.Thread) (*model.Thread, error) {
	entity := toThreadEntity(t)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toThreadModel(entity), nil
}

func (r *ThreadRepository) GetByID(ctx context.Context, id int64) (*model.Thread, error) {
	var entity ThreadEntity
	err := r.Read(ctx).Where("id = ?", id).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toThreadModel(&entity), nil
}

func (r *ThreadRepository) FindByKey(ctx context.Context, key string) (*model.Thread, error) {
	var entity ThreadEntity
	err := r.Read(ctx).Where("thread_key = ?", key).First(&entity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return toThreadModel(&entity), nil
}

// FindByIdentity matches a thread by key, LID or phone. A phone match is
// preferred so a promoted thread wins over any stray LID row.
func (r *ThreadRepository) FindByIdentity(ctx context.Context, key, lid, phone string) (*model.Thread, error) {
	q := r.Read(ctx).Model(&ThreadEntity{})

	conds := []string{"thread_key = ?"}
	args := []any{key}
	if lid != "" {
		conds = append(conds, "customer_lid = ?")
		args = append(args, lid)
	}
	if phone != "" {
		conds = append(conds, "customer_phone = ?")
		args = append(args, phone)
	}
	q = q.Where("("+strings.Join(conds, " OR ")+")", args...)

	var entities []*ThreadEntity
	if err := q.Order("id").Limit(5).Find(&entities).Error; err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrNotFound
	}
	for _, e := range entities {
		if phone != "" && e.CustomerPhone != nil && *e.CustomerPhone == phone {
			return toThreadModel(e), nil
		}
	}
	return toThreadModel(entities[0]), nil
}

// UpdateIdentity rewrites the identity and name columns of a thread.
func (r *ThreadRepository) UpdateIdentity(ctx context.Context, t *model.Thread) error {
	res := r.Write(ctx).Model(&ThreadEntity{}).Where("id = ?", t.ID).Updates(map[string]any{
		"thread_key":            t.ThreadKey,
		"customer_phone":        t.CustomerPhone,
		"customer_platform_id":  t.CustomerPlatformID,
		"customer_lid":          t.CustomerLID,
		"main_participant":      t.MainParticipant,
		"customer_display_name": t.CustomerDisplayName,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ApplyMessage moves the thread summary to the latest message. The unread
// counter is incremented in SQL so concurrent deliveries never lose a count.
func (r *ThreadRepository) ApplyMessage(ctx context.Context, id int64, at time.Time, preview string, inbound bool) error {
	updates := map[string]any{
		"last_message_utc":     at.UTC(),
		"last_message_preview": truncate(preview, 500),
	}
	if inbound {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}

	res := r.Write(ctx).Model(&ThreadEntity{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ThreadRepository) MarkRead(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&ThreadEntity{}).Where("id = ?", id).Update("unread_count", 0)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign sets or clears (nil) the agent of a thread.
func (r *ThreadRepository) Assign(ctx context.Context, id int64, agent *string) error {
	res := r.Write(ctx).Model(&ThreadEntity{}).Where("id = ?", id).Update("assigned_to", agent)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ThreadRepository) List(ctx context.Context, f model.ThreadFilter) ([]*model.Thread, int64, error) {
	q := r.Read(ctx).Model(&ThreadEntity{})

	switch f.Filter {
	case model.ThreadFilterMine:
		q = q.Where("assigned_to = ?", f.CurrentUser)
	case model.ThreadFilterUnassigned:
		q = q.Where("assigned_to IS NULL")
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where("(LOWER(customer_display_name) LIKE ? OR customer_phone LIKE ? OR LOWER(customer_email) LIKE ? OR LOWER(last_message_preview) LIKE ?)", like, like, like, like)
	}

	// Count before pagination
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

	var entities []*ThreadEntity
	if err := q.Order("COALESCE(last_message_utc, created_utc) DESC").Order("id DESC").
		Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toThreadModels(entities), total, nil
}

func (r *ThreadRepository) Counts(ctx context.Context, user string) (*model.InboxCounts, error) {
	var counts model.InboxCounts
	db := r.Read(ctx)

	if err := db.Model(&ThreadEntity{}).Count(&counts.All).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&ThreadEntity{}).Where("assigned_to IS NULL").Count(&counts.Unassigned).Error; err != nil {
		return nil, err
	}
	if user != "" {
		if err := db.Model(&ThreadEntity{}).Where("assigned_to = ?", user).Count(&counts.Mine).Error; err != nil {
			return nil, err
		}
	}
	return &counts, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
