// Package audit provides the append-only record of every privileged
// call. One JSON line per dispatch, written to a process-visible sink,
// never returned to the caller.
package audit

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datamancy/toolhost/internal/config"
)

// Record is one audit entry. Records are never updated or deleted by
// the running process.
type Record struct {
	CallID         string        `json:"call_id"`
	Timestamp      time.Time     `json:"timestamp"`
	Caller         string        `json:"caller,omitempty"`
	ShadowIdentity string        `json:"shadow_identity,omitempty"`
	Tool           string        `json:"tool"`
	Statement      string        `json:"statement,omitempty"`
	RowCount       int           `json:"row_count"`
	Elapsed        time.Duration `json:"-"`
	Success        bool          `json:"success"`
	Error          string        `json:"error,omitempty"`
}

// Sink writes audit records.
type Sink struct {
	logger         zerolog.Logger
	statementLimit int
	file           *os.File
	mu             sync.Mutex
}

// NewSink creates an audit sink. An empty file path writes to stdout.
func NewSink(cfg config.AuditConfig) (*Sink, error) {
	var (
		out  *os.File
		file *os.File
	)
	if cfg.File == "" {
		out = os.Stdout
	} else {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		out = f
		file = f
	}

	limit := cfg.StatementLimit
	if limit <= 0 {
		limit = 512
	}

	return &Sink{
		logger:         zerolog.New(out).With().Timestamp().Logger(),
		statementLimit: limit,
		file:           file,
	}, nil
}

// NewSinkWithLogger creates a sink over an existing logger (for tests).
func NewSinkWithLogger(logger zerolog.Logger, statementLimit int) *Sink {
	if statementLimit <= 0 {
		statementLimit = 512
	}
	return &Sink{logger: logger, statementLimit: statementLimit}
}

// Write appends one record. Statement text is truncated to the
// configured limit before it is written.
func (s *Sink) Write(rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if len(rec.Statement) > s.statementLimit {
		rec.Statement = rec.Statement[:s.statementLimit] + "..."
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.logger.Log().
		Str("call_id", rec.CallID).
		Str("tool", rec.Tool).
		Bool("success", rec.Success).
		Int("row_count", rec.RowCount).
		Dur("elapsed", rec.Elapsed)

	if rec.Caller != "" {
		entry = entry.Str("caller", rec.Caller)
	}
	if rec.ShadowIdentity != "" {
		entry = entry.Str("shadow_identity", rec.ShadowIdentity)
	}
	if rec.Statement != "" {
		entry = entry.Str("statement", rec.Statement)
	}
	if rec.Error != "" {
		entry = entry.Str("error", rec.Error)
	}

	entry.Msg("audit")
}

// Close closes the sink's file handle, if any.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
