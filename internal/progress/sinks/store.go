package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/progress"
	"github.com/JakeFAU/mention-scanner/internal/store"
)

// StoreSink persists run lifecycle events via a store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run start and completion events to the repository in
// order. Monitor events are ignored. Completions for runs whose start was never
// recorded are logged and skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	for _, evt := range batch {
		if err := s.handleRunEvent(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.UpsertRunStart(ctx, evt.RunID, store.RunKind(evt.Kind), evt.Source, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageRunDone:
		return s.complete(ctx, evt, store.RunSuccess, nil)
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		return s.complete(ctx, evt, store.RunError, note)
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event, status store.RunStatus, note *string) error {
	err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, evt.NewItems, note)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("run completion without recorded start", zap.String("run_id", evt.RunID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
