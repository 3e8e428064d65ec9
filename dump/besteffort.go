package dump

import (
	"io"
	"sync"

	"github.com/arloliu/go-astm/logger"
)

// BestEffort wraps w so that writes never fail. The first write error is
// logged and all later writes are dropped.
func BestEffort(w io.Writer, l logger.Logger) io.Writer {
	if l == nil {
		l = logger.GetLogger()
	}

	return &bestEffortWriter{w: w, logger: l}
}

type bestEffortWriter struct {
	mu     sync.Mutex
	w      io.Writer
	logger logger.Logger
	failed bool
}

func (b *bestEffortWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failed {
		return len(p), nil
	}

	if _, err := b.w.Write(p); err != nil {
		b.failed = true
		b.logger.Warn("dump: write failed, dump disabled for this connection", "error", err)
	}

	return len(p), nil
}
