package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/pondok-erp/pondok-erp/internal/shared"
)

const writeTimeout = 5 * time.Second

// Writer appends entries to durable storage.
type Writer interface {
	Insert(ctx context.Context, entry Entry) error
}

// Recorder appends one audit entry per mutating operation. It never reports
// failure to the caller.
type Recorder struct {
	writer Writer
	logger *slog.Logger
	now    func() time.Time
}

// NewRecorder builds a Recorder.
func NewRecorder(writer Writer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{writer: writer, logger: logger, now: time.Now}
}

// Record writes an entry attributed to the actor carried by ctx.
func (r *Recorder) Record(ctx context.Context, action Action, targetType, targetID, details string) {
	if r == nil || r.writer == nil {
		return
	}
	actor := shared.ActorFromContext(ctx)
	entry := Entry{
		Timestamp:     r.now().UTC(),
		ActorUsername: orDefault(actor.Username, "anonymous"),
		ActorRole:     orDefault(actor.Role, "unknown"),
		Action:        action,
		TargetType:    targetType,
		TargetID:      targetID,
		Details:       details,
		SourceAddress: actor.Address,
	}
	// The business operation has already happened; a cancelled request must not drop its trail.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("audit write panicked", slog.Any("panic", p), slog.String("target_type", targetType))
		}
	}()
	if err := r.writer.Insert(writeCtx, entry); err != nil {
		r.logger.Error("audit write failed",
			slog.Any("error", err),
			slog.String("action", string(action)),
			slog.String("target_type", targetType),
			slog.String("target_id", targetID),
		)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
