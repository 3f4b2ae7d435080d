package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide mesh activity counter.
var Stats = &stats{}

type stats struct {
	LinksOpened   atomic.Int64 // cumulative peer links created
	LinksClosed   atomic.Int64 // cumulative peer links torn down
	FramesSent    atomic.Int64 // signaling frames written to the relay
	FramesRecv    atomic.Int64 // valid signaling frames read from the relay
	FramesDropped atomic.Int64 // inbound frames rejected by parsing or routing
	FramesQueued  atomic.Int64 // outbound frames queued before the transport was ready
}

func (s *stats) AddLink()    { s.LinksOpened.Add(1) }
func (s *stats) RemoveLink() { s.LinksClosed.Add(1) }
func (s *stats) AddSent()    { s.FramesSent.Add(1) }
func (s *stats) AddRecv()    { s.FramesRecv.Add(1) }
func (s *stats) AddDropped() { s.FramesDropped.Add(1) }
func (s *stats) AddQueued()  { s.FramesQueued.Add(1) }

// ActiveLinks is the number of links currently alive.
func (s *stats) ActiveLinks() int64 {
	return s.LinksOpened.Load() - s.LinksClosed.Load()
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs mesh activity every
// interval, but only when something changed. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevDropped, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.LinksOpened.Load()
				closed := Stats.LinksClosed.Load()
				sent := Stats.FramesSent.Load()
				recv := Stats.FramesRecv.Load()
				dropped := Stats.FramesDropped.Load()

				if opened != prevOpened || closed != prevClosed || sent != prevSent || recv != prevRecv || dropped != prevDropped {
					pterm.DefaultLogger.Info(formatStats(opened-closed, sent-prevSent, recv-prevRecv, dropped-prevDropped))
				}

				prevSent = sent
				prevRecv = recv
				prevDropped = dropped
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a one-line summary for the logger, for example
// "Peers:  2 | Frames: 12↑ 15↓  0✗".
func formatStats(active, sent, recv, dropped int64) string {
	return fmt.Sprintf("Peers: %2d | Frames: %2d↑ %2d↓ %2d✗", active, sent, recv, dropped)
}
