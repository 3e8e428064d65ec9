package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/go-astm/logger"
)

// Option is a functional option for configuring a Dispatcher.
type Option interface {
	apply(*Dispatcher) error
}

type optFunc func(*Dispatcher) error

func (f optFunc) apply(d *Dispatcher) error { return f(d) }

// WithPolicy sets the sequencing policy. The default is HardFail.
func WithPolicy(p SequencingPolicy) Option {
	return optFunc(func(d *Dispatcher) error {
		if p != HardFail && p != WarnAndContinue {
			return fmt.Errorf("dispatch: invalid sequencing policy %d", int(p))
		}
		d.policy = p

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(d *Dispatcher) error {
		if l == nil {
			return errors.New("dispatch: logger must not be nil")
		}
		d.logger = l

		return nil
	})
}

// WithPrivateTag sets the word whose prefixes mark an order private.
func WithPrivateTag(tag string) Option {
	return optFunc(func(d *Dispatcher) error {
		if tag == "" {
			return errors.New("dispatch: private tag must not be empty")
		}
		d.privateTag = tag

		return nil
	})
}

// WithPatientIDWidth sets the zero-padded width of patient references.
func WithPatientIDWidth(width int) Option {
	return optFunc(func(d *Dispatcher) error {
		if width < 0 || width > 32 {
			return fmt.Errorf("dispatch: patient id width %d out of range [0, 32]", width)
		}
		d.idWidth = width

		return nil
	})
}

// WithLocation sets the time zone of record date/time fields.
func WithLocation(loc *time.Location) Option {
	return optFunc(func(d *Dispatcher) error {
		if loc == nil {
			return errors.New("dispatch: location must not be nil")
		}
		d.decoder.Location = loc

		return nil
	})
}

// WithClock sets the clock used for receipt times.
func WithClock(now func() time.Time) Option {
	return optFunc(func(d *Dispatcher) error {
		if now == nil {
			return errors.New("dispatch: clock must not be nil")
		}
		d.now = now

		return nil
	})
}
