package audit

import (
	"context"

	"go.uber.org/zap"
)

// Safe wraps a Recorder so its errors and panics are logged and never reach
// the caller. Record always returns nil.
type Safe struct {
	next   Recorder
	logger *zap.Logger
}

// NewSafe wraps next. A nil next records nothing.
func NewSafe(next Recorder, logger *zap.Logger) *Safe {
	if next == nil {
		next = Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Safe{next: next, logger: logger}
}

func (s *Safe) Record(ctx context.Context, e Event) error {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("audit recorder panicked",
				zap.String("request_id", e.RequestID),
				zap.String("kind", string(e.Kind)),
				zap.Any("recover", rec))
		}
	}()

	if err := s.next.Record(ctx, e); err != nil {
		s.logger.Warn("audit recorder failed",
			zap.String("request_id", e.RequestID),
			zap.String("kind", string(e.Kind)),
			zap.Error(err))
	}
	return nil
}
