// Package orderno generates order numbers: 41 bits of milliseconds since
// Epoch, 10 bits of worker id and a 12 bit per-millisecond sequence.
package orderno

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"flashsaleservice/internal/clock"
)

const (
	workerBits   = 10
	sequenceBits = 12

	MaxWorkerID  = 1<<workerBits - 1
	maxSequence  = 1<<sequenceBits - 1
	workerShift  = sequenceBits
	elapsedShift = sequenceBits + workerBits
)

// Epoch is 2024-01-01T00:00:00Z.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

var ErrClockBeforeEpoch = errors.New("orderno: clock is before epoch")

type Generator struct {
	mu       sync.Mutex
	clock    clock.Clock
	workerID int64
	lastMs   int64
	sequence int64
}

func NewGenerator(workerID int64, clk clock.Clock) (*Generator, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("orderno: worker id %d out of range [0, %d]", workerID, MaxWorkerID)
	}
	return &Generator{clock: clk, workerID: workerID, lastMs: -1}, nil
}

// NextID returns an id strictly greater than every id this generator has
// returned before. When the clock stalls or steps back, ids continue from
// the last seen millisecond.
func (g *Generator) NextID(_ context.Context) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.clock.Now().Sub(Epoch).Milliseconds()
	if ms < 0 {
		return 0, ErrClockBeforeEpoch
	}
	if ms <= g.lastMs {
		ms = g.lastMs
		g.sequence++
		if g.sequence > maxSequence {
			// Borrow the next millisecond rather than spin on the clock.
			ms++
			g.sequence = 0
		}
	} else {
		g.sequence = 0
	}
	g.lastMs = ms

	return ms<<elapsedShift | g.workerID<<workerShift | g.sequence, nil
}

// WorkerOf extracts the worker id from an id.
func WorkerOf(id int64) int64 {
	return (id >> workerShift) & MaxWorkerID
}
