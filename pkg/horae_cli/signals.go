// pkg/horae_cli/signals.go
//
// Signal handling for long-running commands. The first SIGINT/SIGTERM cancels
// the command context so in-flight probes and stages return partial results;
// a second signal exits immediately.

package horae_cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const cleanupTimeout = 5 * time.Second

// CleanupFunc is a function that performs cleanup operations
type CleanupFunc func() error

// SignalHandler manages graceful shutdown on signals
type SignalHandler struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sigChan chan os.Signal
	done    chan struct{}
	exit    func(int)

	mu           sync.Mutex
	cleanupFuncs []CleanupFunc
	interrupted  bool
	stopOnce     sync.Once
}

type handlerKey struct{}

// NewSignalHandler creates a new signal handler
func NewSignalHandler(parent context.Context) *SignalHandler {
	h := newSignalHandler(parent, os.Exit)
	signal.Notify(h.sigChan, os.Interrupt, syscall.SIGTERM)
	go h.handleSignals()
	return h
}

func newSignalHandler(parent context.Context, exit func(int)) *SignalHandler {
	h := &SignalHandler{
		sigChan: make(chan os.Signal, 2),
		done:    make(chan struct{}),
		exit:    exit,
	}
	h.ctx, h.cancel = context.WithCancel(parent)
	h.ctx = context.WithValue(h.ctx, handlerKey{}, h)
	return h
}

// Context returns the cancellable context
func (h *SignalHandler) Context() context.Context {
	return h.ctx
}

// Interrupted reports whether a signal cancelled the context.
func (h *SignalHandler) Interrupted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.interrupted
}

// RegisterCleanup adds a cleanup function to be called on Stop.
// Cleanup functions are called in REVERSE order (LIFO)
func (h *SignalHandler) RegisterCleanup(cleanup CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanupFuncs = append(h.cleanupFuncs, cleanup)
}

// RegisterCleanup attaches cleanup to the handler carried by ctx. It reports
// false when ctx was not created by a SignalHandler.
func RegisterCleanup(ctx context.Context, cleanup CleanupFunc) bool {
	h, ok := ctx.Value(handlerKey{}).(*SignalHandler)
	if !ok {
		return false
	}
	h.RegisterCleanup(cleanup)
	return true
}

func (h *SignalHandler) handleSignals() {
	logger := otelzap.Ctx(h.ctx)

	select {
	case <-h.done:
		return
	case sig := <-h.sigChan:
		logger.Warn("Received signal, cancelling", zap.String("signal", sig.String()))
		fmt.Fprintf(os.Stderr, "\nReceived %v, stopping (press Ctrl-C again to force)\n", sig)
		h.mu.Lock()
		h.interrupted = true
		h.mu.Unlock()
		h.cancel()
	}

	select {
	case <-h.done:
	case sig := <-h.sigChan:
		logger.Error("Received second signal, forcing exit", zap.String("signal", sig.String()))
		h.exit(130)
	}
}

// Stop runs the cleanup functions and stops listening for signals. It is
// safe to call more than once; only the first call runs cleanup.
func (h *SignalHandler) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		signal.Stop(h.sigChan)
		close(h.done)
		err = h.runCleanup()
		h.cancel()
	})
	return err
}

// runCleanup executes all cleanup functions with a timeout
func (h *SignalHandler) runCleanup() error {
	h.mu.Lock()
	funcs := append([]CleanupFunc(nil), h.cleanupFuncs...)
	h.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		var result error
		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				otelzap.Ctx(h.ctx).Warn("Cleanup function failed", zap.Int("index", i), zap.Error(err))
				result = multierror.Append(result, err)
			}
		}
		done <- result
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(cleanupTimeout):
		return fmt.Errorf("cleanup timed out after %s", cleanupTimeout)
	}
}
