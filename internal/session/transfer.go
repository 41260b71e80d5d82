package session

import (
	"context"
	"time"
)

// Pacer controls the delay between chunks of the simulated transfer.
// The real pacer sleeps proportionally to chunk size; tests plug in a
// zero-delay implementation.
type Pacer interface {
	Wait(ctx context.Context, chunkMB int64) error
}

// DelayPacer sleeps between a configured minimum and maximum per chunk,
// scaled linearly with chunk size against the largest possible chunk.
type DelayPacer struct {
	Min time.Duration
	Max time.Duration
}

func (p DelayPacer) Wait(ctx context.Context, chunkMB int64) error {
	d := p.Min
	if p.Max > p.Min && maxChunkMB > 0 {
		d += time.Duration(int64(p.Max-p.Min) * chunkMB / maxChunkMB)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NopPacer waits for nothing. Test use only.
type NopPacer struct{}

func (NopPacer) Wait(ctx context.Context, chunkMB int64) error {
	return ctx.Err()
}

const (
	minChunkMB int64 = 50
	maxChunkMB int64 = 100

	// transferringAtPercent is where the download phase hands over to
	// the transfer-to-credential phase.
	transferringAtPercent = 35
)

// chunkSize adapts the chunk to the requested size: a tenth of the
// total, clamped to [50, 100] MB.
func chunkSize(requestedMB int64) int64 {
	chunk := requestedMB / 10
	if chunk < minChunkMB {
		chunk = minChunkMB
	}
	if chunk > maxChunkMB {
		chunk = maxChunkMB
	}
	return chunk
}
