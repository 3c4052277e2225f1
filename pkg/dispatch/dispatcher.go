// Package dispatch is the host runtime: it routes a tool call through
// catalog lookup, argument validation, handler invocation, and audit.
// The dispatcher is stateless between calls; all per-call state is
// stack-local.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/datamancy/toolhost/internal/audit"
	"github.com/datamancy/toolhost/internal/metrics"
	"github.com/datamancy/toolhost/pkg/catalog"
	"github.com/datamancy/toolhost/pkg/hosterror"
)

// CallMeta is filled in by handlers through the context so the audit
// record can carry the resolved shadow identity, statement text and
// row count of data-source calls.
type CallMeta struct {
	ShadowIdentity string
	Statement      string
	RowCount       int
}

type callMetaKey struct{}

// WithCallMeta installs a CallMeta slot on the context. The dispatcher
// does this for every call; handlers fill the slot via MetaFromContext.
func WithCallMeta(ctx context.Context) (context.Context, *CallMeta) {
	meta := &CallMeta{}
	return context.WithValue(ctx, callMetaKey{}, meta), meta
}

// MetaFromContext returns the call's meta slot, or nil outside a
// dispatch.
func MetaFromContext(ctx context.Context) *CallMeta {
	meta, _ := ctx.Value(callMetaKey{}).(*CallMeta)
	return meta
}

// Dispatcher executes tool calls against a sealed catalog.
type Dispatcher struct {
	catalog *catalog.Catalog
	audit   *audit.Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger
	timeout time.Duration
}

// New creates a Dispatcher. The catalog must be sealed before the
// first call.
func New(cat *catalog.Catalog, sink *audit.Sink, m *metrics.Metrics, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog: cat,
		audit:   sink,
		metrics: m,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		timeout: timeout,
	}
}

// Dispatch runs one tool call. Exactly one audit record is written
// per call, success or failure. Handler panics are caught here and
// surfaced as backend errors; the stack is logged server-side only.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, argsJSON json.RawMessage, caller string) (json.RawMessage, error) {
	callID := uuid.NewString()
	start := time.Now()

	ctx, meta := WithCallMeta(ctx)

	result, err := d.run(ctx, toolName, argsJSON, caller)
	elapsed := time.Since(start)

	rec := audit.Record{
		CallID:         callID,
		Caller:         caller,
		ShadowIdentity: meta.ShadowIdentity,
		Tool:           toolName,
		Statement:      meta.Statement,
		RowCount:       meta.RowCount,
		Elapsed:        elapsed,
		Success:        err == nil,
	}

	status := "success"
	if err != nil {
		he := hosterror.AsError(err)
		rec.Error = he.Error()
		status = "failure"

		d.metrics.CallErrorsTotal.WithLabelValues(toolName, string(he.Code)).Inc()
		d.logger.Warn().
			Str("call_id", callID).
			Str("tool", toolName).
			Str("caller", caller).
			Str("code", string(he.Code)).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("Tool call failed")

		err = he
	} else {
		d.logger.Debug().
			Str("call_id", callID).
			Str("tool", toolName).
			Str("caller", caller).
			Int("rows", meta.RowCount).
			Dur("elapsed", elapsed).
			Msg("Tool call completed")
	}

	d.metrics.CallsTotal.WithLabelValues(toolName, status).Inc()
	d.metrics.CallDuration.WithLabelValues(toolName).Observe(elapsed.Seconds())
	d.audit.Write(rec)

	return result, err
}

func (d *Dispatcher) run(ctx context.Context, toolName string, argsJSON json.RawMessage, caller string) (_ json.RawMessage, err error) {
	entry, err := d.catalog.Lookup(toolName)
	if err != nil {
		return nil, err
	}

	args, err := decodeArgs(argsJSON)
	if err != nil {
		return nil, err
	}

	if err := validateArgs(entry.Schema, args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("tool", toolName).
				Interface("panic", r).
				Msg("Handler panicked")
			err = hosterror.FromPanic(r)
		}
	}()

	result, err := entry.Handler(ctx, args, caller)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
			return nil, hosterror.Timeout("tool %s exceeded its %s bound", toolName, d.timeout)
		}
		return nil, err
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, hosterror.Backendf("failed to encode tool result: %v", err)
	}
	return encoded, nil
}

func decodeArgs(argsJSON json.RawMessage) (map[string]any, error) {
	if len(argsJSON) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(argsJSON, &args); err != nil {
		return nil, hosterror.ValidationError("arguments are not a JSON object: %v", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func validateArgs(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return hosterror.ValidationError("argument validation error: %v", err)
	}
	if !result.Valid() {
		msg := ""
		for i, verr := range result.Errors() {
			if i > 0 {
				msg += "; "
			}
			msg += verr.String()
		}
		return hosterror.ValidationError("invalid arguments: %s", msg)
	}
	return nil
}
