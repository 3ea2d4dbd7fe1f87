package recovery

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClearer struct {
	calls int
	err   error
}

func (f *fakeClearer) ClearAll() error {
	f.calls++
	return f.err
}

func TestRecover_LogsAndClears(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	store := &fakeClearer{}
	r := New(store, zap.New(obsCore))

	f, err := r.Recover(&ExecutionFailureError{Test: "a.ATest", Code: "ExitCode", Message: "exit status 1"})
	require.NoError(t, err)
	assert.Equal(t, FailureClassExecution, f.Class)
	assert.Equal(t, 1, store.calls)

	entries := logs.FilterMessage(ClearMessage).All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "execution", ctx["failure_class"])
	assert.Equal(t, "ExitCode", ctx["error_code"])
	assert.Equal(t, "a.ATest", ctx["test"])
}

func TestRecover_ClearFailureIsIOFailure(t *testing.T) {
	store := &fakeClearer{err: errors.New("read-only file system")}
	_, err := New(store, nil).Recover(errors.New("boom"))

	var iof *IOFailureError
	require.ErrorAs(t, err, &iof)
	assert.Equal(t, "clear", iof.Op)
}

func TestClearAll_WithoutCause(t *testing.T) {
	obsCore, logs := observer.New(zapcore.WarnLevel)
	store := &fakeClearer{}
	require.NoError(t, New(store, zap.New(obsCore)).ClearAll())
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, logs.FilterMessage(ClearMessage).Len())
}

func TestRecovery_RequiresStore(t *testing.T) {
	require.Error(t, (&Recovery{}).ClearAll())
}
