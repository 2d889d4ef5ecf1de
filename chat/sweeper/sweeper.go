// Package sweeper implements the background file-cleanup task: a 5-minute
// tick that reaps blobs and rows for expired, chat-detached files.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/pinkfuwa/llumen-go/blob"
	"github.com/pinkfuwa/llumen-go/persistence"
)

// tickInterval is a policy knob; this implementation keeps it at 5
// minutes.
const tickInterval = 5 * time.Minute

// Now is overridable in tests; production callers leave it as time.Now.
var Now = time.Now

// Sweeper periodically deletes files with a null chat_id whose ValidUntil
// has elapsed. Files with a non-null chat_id (including generated images)
// are never touched — the query itself only ever returns eligible rows.
type Sweeper struct {
	Persist persistence.Persistence
	Blobs   blob.Store
	Logger  *slog.Logger
}

// Run blocks, ticking every tickInterval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	logger := s.logger()
	logger.Info("sweeper started", "interval", tickInterval)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// sweepOnce runs a single pass: list every expired file, best-effort delete
// its blob (tolerating one that's already gone), then delete the DB row.
// One file's failure never stops the rest of the batch.
func (s *Sweeper) sweepOnce(ctx context.Context) {
	logger := s.logger()

	expired, err := s.Persist.ListExpiredFiles(ctx, Now().Unix())
	if err != nil {
		logger.Error("sweeper: list expired files", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, f := range expired {
		// Delete is itself tolerant of an already-missing blob (each
		// backend's own contract); any error here is a real I/O failure.
		if err := s.Blobs.Delete(ctx, f.ID); err != nil {
			logger.Error("sweeper: delete blob", "file_id", f.ID, "error", err)
		}
		if err := s.Persist.DeleteFile(ctx, f.ID); err != nil {
			logger.Error("sweeper: delete file row", "file_id", f.ID, "error", err)
			continue
		}
		logger.Debug("sweeper: reaped expired file", "file_id", f.ID)
	}
}
