// Package recovery classifies the errors that abort an analysis pass and
// resets persisted state after them.
//
// Any failure invalidates the relationship between the hash registry and the
// coverage records, so recovery never tries to salvage partial state: it
// removes everything and the next pass starts from scratch.
package recovery

import (
	"errors"

	"go.uber.org/zap"
)

// ClearMessage is logged every time persisted state is wiped.
const ClearMessage = "Clearing skippy folder due to build failure"

// Clearer removes all persisted analysis state.
type Clearer interface {
	ClearAll() error
}

// Recovery wipes persisted state after a failure.
type Recovery struct {
	Store  Clearer
	Logger *zap.Logger
}

// New returns a Recovery for store. A nil logger discards output.
func New(store Clearer, logger *zap.Logger) *Recovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recovery{Store: store, Logger: logger}
}

// Recover classifies cause, logs it, and clears all state. The returned error
// is non-nil only when clearing itself failed.
func (r *Recovery) Recover(cause error) (Failure, error) {
	f := ClassifyFailure(cause)
	fields := []zap.Field{
		zap.String("failure_class", string(f.Class)),
		zap.String("error_code", f.Code),
		zap.String("error_message", f.Message),
	}
	if f.Test != "" {
		fields = append(fields, zap.String("test", f.Test))
	}
	return f, r.clear(fields...)
}

// ClearAll wipes state without a classified cause, e.g. when the build
// reports a failure through the CLI.
func (r *Recovery) ClearAll() error {
	return r.clear()
}

func (r *Recovery) clear(fields ...zap.Field) error {
	if r == nil || r.Store == nil {
		return errors.New("recovery: Store is required")
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn(ClearMessage, fields...)
	if err := r.Store.ClearAll(); err != nil {
		logger.Error("failed to clear skippy folder", zap.Error(err))
		return &IOFailureError{Op: "clear", Cause: err}
	}
	return nil
}
