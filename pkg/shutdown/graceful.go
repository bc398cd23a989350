package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
)

// Handler runs registered cleanup functions exactly once, in reverse
// registration order, when the process is asked to stop.
type Handler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	once          sync.Once
	done          chan struct{}
	logger        *logger.Logger
}

// NewHandler creates a new graceful shutdown handler
func NewHandler() *Handler {
	log, _ := logger.New(config.LoggerConfig{
		Level:  "info",
		Format: "json",
	})
	return &Handler{
		shutdownFuncs: make([]func() error, 0),
		done:          make(chan struct{}),
		logger:        log.WithComponent("shutdown"),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (h *Handler) RegisterShutdownFunc(fn func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.shutdownFuncs = append(h.shutdownFuncs, fn)
}

// WaitForShutdown waits for shutdown signals and executes shutdown functions
func (h *Handler) WaitForShutdown(ctx context.Context) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		h.logger.Infow("Received signal, starting graceful shutdown", "signal", sig)
		h.Shutdown()
	case <-ctx.Done():
		h.logger.Info("Context cancelled, starting graceful shutdown")
		h.Shutdown()
	}
}

// Shutdown executes the registered shutdown functions in reverse order, so
// the HTTP listener drains before the pool it depends on closes. A failing
// function is logged and does not stop the rest. Subsequent calls are
// no-ops.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		h.mu.Lock()
		funcs := h.shutdownFuncs
		h.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				h.logger.Errorw("Error during shutdown", "error", err)
			}
		}
		close(h.done)
	})
}

// Done returns a channel that is closed once every shutdown function has
// run.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// ShutdownWithTimeout runs Shutdown but gives up waiting after the timeout,
// returning an error so the caller can exit anyway.
func (h *Handler) ShutdownWithTimeout(timeout time.Duration) error {
	go h.Shutdown()

	select {
	case <-h.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}
