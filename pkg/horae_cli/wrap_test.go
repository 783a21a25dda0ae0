package horae_cli

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_err"
	"github.com/CodeMonkeyCybersecurity/horae/pkg/horae_io"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, fn func(rc *horae_io.RuntimeContext, cmd *cobra.Command, args []string) error) error {
	t.Helper()
	cmd := &cobra.Command{Use: "status"}
	cmd.SetContext(context.Background())
	return Wrap(fn)(cmd, nil)
}

func TestWrapSuccess(t *testing.T) {
	t.Parallel()
	var cleaned atomic.Bool
	err := run(t, func(rc *horae_io.RuntimeContext, _ *cobra.Command, _ []string) error {
		require.True(t, RegisterCleanup(rc.Ctx, func() error {
			cleaned.Store(true)
			return nil
		}))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, cleaned.Load())
}

func TestWrapRecoversPanic(t *testing.T) {
	t.Parallel()
	err := run(t, func(*horae_io.RuntimeContext, *cobra.Command, []string) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 3, horae_err.GetExitCode(err))
	assert.Contains(t, err.Error(), "panic: boom")
}

func TestWrapKeepsExitCodes(t *testing.T) {
	t.Parallel()
	structural := horae_err.NewStructuralError("cycle", nil)
	err := run(t, func(*horae_io.RuntimeContext, *cobra.Command, []string) error { return structural })
	assert.ErrorIs(t, err, structural)
	assert.Equal(t, 2, horae_err.GetExitCode(err))

	expected := horae_err.NewExpectedError(context.Background(), errors.New("nothing to do"))
	err = run(t, func(*horae_io.RuntimeContext, *cobra.Command, []string) error { return expected })
	assert.Equal(t, 0, horae_err.GetExitCode(err))
}

func TestSignalHandlerCancelsOnFirstSignal(t *testing.T) {
	t.Parallel()
	exited := make(chan int, 1)
	h := newSignalHandler(context.Background(), func(code int) { exited <- code })
	go h.handleSignals()

	h.sigChan <- os.Interrupt
	select {
	case <-h.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	assert.True(t, h.Interrupted())

	h.sigChan <- os.Interrupt
	select {
	case code := <-exited:
		assert.Equal(t, 130, code)
	case <-time.After(time.Second):
		t.Fatal("second signal did not force exit")
	}
	require.NoError(t, h.Stop())
}

func TestSignalHandlerCleanupOrderAndErrors(t *testing.T) {
	t.Parallel()
	h := newSignalHandler(context.Background(), func(int) {})
	var order []int
	h.RegisterCleanup(func() error { order = append(order, 1); return nil })
	h.RegisterCleanup(func() error { order = append(order, 2); return errors.New("close redis") })

	err := h.Stop()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close redis")
	assert.Equal(t, []int{2, 1}, order)
	assert.NoError(t, h.Stop(), "second Stop is a no-op")
	assert.False(t, RegisterCleanup(context.Background(), func() error { return nil }))
}
