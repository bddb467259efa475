package services

import (
	"context"
	"errors"

	"github.com/nimasrn/crm-inbox/internal/model"
	"github.com/nimasrn/crm-inbox/internal/repository"
)

type DeadLetterRepository interface {
	GetByID(ctx context.Context, id int64) (*model.DeadLetter, error)
	List(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetter, int64, error)
	MarkReviewed(ctx context.Context, id int64) error
}

// DeadLetterService is the review surface over failed deliveries.
type DeadLetterService struct {
	repo DeadLetterRepository
}

func NewDeadLetterService(repo DeadLetterRepository) *DeadLetterService {
	return &DeadLetterService{repo: repo}
}

func (s *DeadLetterService) List(ctx context.Context, f model.DeadLetterFilter) ([]*model.DeadLetter, int64, error) {
	return s.repo.List(ctx, f)
}

func (s *DeadLetterService) Get(ctx context.Context, id int64) (*model.DeadLetter, error) {
	dl, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	return dl, err
}

// MarkReviewed is idempotent.
func (s *DeadLetterService) MarkReviewed(ctx context.Context, id int64) error {
	err := s.repo.MarkReviewed(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
