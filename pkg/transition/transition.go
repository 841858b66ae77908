// Package transition drives the expert-side lifecycle mutations. Every
// transition goes to the server first; the local store changes only after
// the server accepts, so a failed call leaves local state untouched.
package transition

import (
	"context"

	"github.com/shonalidesh/agrilink/pkg/consultation"
	apperrors "github.com/shonalidesh/agrilink/pkg/errors"
	"github.com/shonalidesh/agrilink/pkg/logging"
	"github.com/shonalidesh/agrilink/pkg/session"
	"github.com/shonalidesh/agrilink/pkg/store"
)

// API is the slice of the backend client the service needs.
type API interface {
	Accept(ctx context.Context, requestID, expertID string) error
	Reject(ctx context.Context, requestID, expertID string) error
	Complete(ctx context.Context, requestID, expertID string) error
	SubmitAdvice(ctx context.Context, report consultation.Report) error
}

// Service applies lifecycle transitions for one expert.
type Service struct {
	expert  session.Identity
	backend API
	store   *store.Store
	logger  *logging.Logger
}

// NewService creates a transition service.
func NewService(expert session.Identity, backend API, st *store.Store, logger *logging.Logger) *Service {
	return &Service{
		expert:  expert,
		backend: backend,
		store:   st,
		logger:  logger,
	}
}

// Accept claims a NEW request for this expert and moves it to IN_PROGRESS.
func (s *Service) Accept(ctx context.Context, requestID string) error {
	return s.transition(ctx, requestID, consultation.StatusInProgress, s.backend.Accept)
}

// Reject declines a request.
func (s *Service) Reject(ctx context.Context, requestID string) error {
	return s.transition(ctx, requestID, consultation.StatusRejected, s.backend.Reject)
}

// Complete submits the consultation report and then marks the request
// COMPLETED. The report must be accepted by the server before the status
// moves; a request is never completed without its advice on record.
func (s *Service) Complete(ctx context.Context, requestID string, report consultation.Report) error {
	report.RequestID = requestID
	if err := report.Validate(); err != nil {
		return err
	}

	if err := s.backend.SubmitAdvice(ctx, report); err != nil {
		s.logger.Error(logging.CategoryTransition, "advice_submit_failed", err.Error(), map[string]any{
			"request_id": requestID,
		})
		return err
	}

	return s.transition(ctx, requestID, consultation.StatusCompleted, s.backend.Complete)
}

func (s *Service) transition(ctx context.Context, requestID string, target consultation.Status, call func(ctx context.Context, requestID, expertID string) error) error {
	if requestID == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "empty request id")
	}

	if err := call(ctx, requestID, s.expert.UserID); err != nil {
		s.logger.Error(logging.CategoryTransition, "transition_failed", err.Error(), map[string]any{
			"request_id": requestID,
			"target":     string(target),
		})
		return err
	}

	s.store.Dispatch(store.UpdateStatus{ID: requestID, Status: target})
	s.logger.Info(logging.CategoryTransition, "transition_applied", "", map[string]any{
		"request_id": requestID,
		"target":     string(target),
	})
	return nil
}
