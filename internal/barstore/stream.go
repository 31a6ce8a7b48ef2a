package barstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"traderd/internal/domain"
	"traderd/internal/observer"
)

// flushBatch is how many buffered bars trigger a store write. Live 1-minute
// streams flush well before this via the ticker; the batch bound matters for
// the historical backfill burst.
const flushBatch = 256

// Stream sinks one instrument's historical+live bar stream into a Store and
// keeps the most recent bar available for synchronous reads.
type Stream struct {
	inst  domain.Instrument
	store Store
	log   *slog.Logger

	latest *observer.Cached[domain.Bar]
}

// NewStream creates a stream sink for the given instrument.
func NewStream(inst domain.Instrument, store Store, log *slog.Logger) *Stream {
	return &Stream{
		inst:   inst,
		store:  store,
		log:    log.With("component", "barstream", "symbol", inst.Symbol),
		latest: observer.NewCached[domain.Bar](),
	}
}

// Instrument returns the instrument this stream is bound to.
func (s *Stream) Instrument() domain.Instrument { return s.inst }

// Latest returns the most recent bar seen, if any.
func (s *Stream) Latest() (domain.Bar, bool) {
	return s.latest.Value()
}

// WaitBar suspends until at least one bar has been observed.
func (s *Stream) WaitBar(ctx context.Context) (domain.Bar, error) {
	return s.latest.WaitValue(ctx)
}

// Run consumes bars until the stream closes or ctx is cancelled, buffering
// writes to the store. An upstream stream error ends the run after the
// buffer is flushed.
func (s *Stream) Run(ctx context.Context, bars <-chan observer.Item[domain.Bar]) error {
	var buf []domain.Bar
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(buf) == 0 {
			return
		}
		if err := s.store.WriteBars(ctx, s.inst, buf); err != nil {
			s.log.Error("flushing bars", "count", len(buf), "error", err)
			return
		}
		buf = buf[:0]
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			flush()
		case item, ok := <-bars:
			if !ok {
				return nil
			}
			if item.Err != nil {
				s.latest.Fail(item.Err)
				return fmt.Errorf("bar stream for %s: %w", s.inst.Symbol, item.Err)
			}
			s.latest.Send(item.Value)
			buf = append(buf, item.Value)
			if len(buf) >= flushBatch {
				flush()
			}
		}
	}
}
