// Package driver defines the contract between the render loop and the layer
// that moves samples to and from the hardware once per period.
package driver

import (
	"context"
	"errors"

	"github.com/misterbo94/Bela/internal/exchange"
	"github.com/misterbo94/Bela/internal/levels"
)

var (
	// ErrEndOfStream ends the run cleanly, e.g. when an offline input is exhausted
	ErrEndOfStream = errors.New("end of stream")
	// ErrIOFault is an unrecoverable hardware I/O failure
	ErrIOFault = errors.New("hardware i/o fault")
	// ErrNotOpen is returned when a driver is used before Open or after Close
	ErrNotOpen = errors.New("driver not open")
)

// Driver delivers one raw buffer set per period and accepts it back once the
// outputs are written. Next blocks until the next period boundary; every
// successful Next is followed by exactly one Commit of the same set.
type Driver interface {
	Name() string
	Open(g exchange.Geometry) error
	Start() error
	Next(ctx context.Context) (*exchange.RawBuffers, error)
	Commit(raw *exchange.RawBuffers) error
	Close() error
}

// CodecProvider is implemented by drivers that own a level codec
type CodecProvider interface {
	Codec() levels.Codec
}
