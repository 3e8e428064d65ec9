package commit

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// Defaults of the pipeline options.
const (
	DefaultStaleness = 24 * time.Hour
	DefaultAuthor    = "XX"
)

// Option is a functional option for configuring a Pipeline.
type Option interface {
	apply(*Pipeline) error
}

type optFunc func(*Pipeline) error

func (f optFunc) apply(p *Pipeline) error { return f(p) }

// WithStaleness sets how long before the header timestamp a result may have
// completed and still be committed.
func WithStaleness(d time.Duration) Option {
	return optFunc(func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("commit: staleness threshold must be positive, got %v", d)
		}
		p.staleness = d

		return nil
	})
}

// WithAuthor sets the author code of billing ledger entries.
func WithAuthor(author string) Option {
	return optFunc(func(p *Pipeline) error {
		if author == "" {
			return errors.New("commit: author must not be empty")
		}
		p.author = author

		return nil
	})
}

// WithSARSOverride sets the analyte whose positive results are billed with
// code instead of the fee-schedule position. An empty code disables the override.
func WithSARSOverride(analyte, code string) Option {
	return optFunc(func(p *Pipeline) error {
		p.sarsAnalyte = analyte
		p.sarsCode = code

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(p *Pipeline) error {
		if l == nil {
			return errors.New("commit: logger must not be nil")
		}
		p.logger = l

		return nil
	})
}

// WithRecorder sets a recorder receiving every batch outcome.
func WithRecorder(r Recorder) Option {
	return optFunc(func(p *Pipeline) error {
		p.recorder = r

		return nil
	})
}

// WithClock sets the clock used for commit times.
func WithClock(now func() time.Time) Option {
	return optFunc(func(p *Pipeline) error {
		if now == nil {
			return errors.New("commit: clock must not be nil")
		}
		p.now = now

		return nil
	})
}
