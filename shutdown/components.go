package shutdown

import (
	"context"
	"errors"
	"io"
	"net/http"
	"syscall"

	"go.uber.org/zap"
)

// HTTPServer stops srv from accepting connections and waits for active
// requests within the shutdown deadline.
func HTTPServer(srv *http.Server) Func {
	return func(ctx context.Context) error {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// Closer adapts an io.Closer such as the session database.
func Closer(c io.Closer) Func {
	return func(context.Context) error {
		return c.Close()
	}
}

// SyncLogger flushes buffered log entries. Sync on a terminal returns
// EINVAL or ENOTTY on some platforms; those are ignored.
func SyncLogger(logger *zap.Logger) Func {
	return func(context.Context) error {
		err := logger.Sync()
		if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return err
	}
}
