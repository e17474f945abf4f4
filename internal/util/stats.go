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

// Stats is the process-wide datagram/message counter.
var Stats = &stats{}

type stats struct {
	DatagramsSent     atomic.Int64 // datagrams handed to the transport
	DatagramsRecv     atomic.Int64 // datagrams read from the transport
	BytesSent         atomic.Int64 // wire bytes sent, headers included
	BytesRecv         atomic.Int64 // wire bytes received, headers included
	Resends           atomic.Int64 // fragments retransmitted by the client
	IntegrityFailures atomic.Int64 // checksum mismatches seen by the server
	Messages          atomic.Int64 // messages completed (EndOfStream acknowledged)
}

func (s *stats) AddSent(n int) {
	s.DatagramsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.DatagramsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddResend()           { s.Resends.Add(1) }
func (s *stats) AddIntegrityFailure() { s.IntegrityFailures.Add(1) }
func (s *stats) AddMessage()          { s.Messages.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs traffic statistics
// every interval. It stops when ctx is cancelled. Quiet intervals are skipped.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prev snapshot
		for {
			select {
			case <-ticker.C:
				cur := Stats.snapshot()
				if cur != prev {
					pterm.DefaultLogger.Info(formatStats(cur.delta(prev), interval))
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

type snapshot struct {
	sent, recv, bytesSent, bytesRecv, resends, integrity, messages int64
}

func (s *stats) snapshot() snapshot {
	return snapshot{
		sent:      s.DatagramsSent.Load(),
		recv:      s.DatagramsRecv.Load(),
		bytesSent: s.BytesSent.Load(),
		bytesRecv: s.BytesRecv.Load(),
		resends:   s.Resends.Load(),
		integrity: s.IntegrityFailures.Load(),
		messages:  s.Messages.Load(),
	}
}

func (s snapshot) delta(prev snapshot) snapshot {
	return snapshot{
		sent:      s.sent - prev.sent,
		recv:      s.recv - prev.recv,
		bytesSent: s.bytesSent - prev.bytesSent,
		bytesRecv: s.bytesRecv - prev.bytesRecv,
		resends:   s.resends - prev.resends,
		integrity: s.integrity - prev.integrity,
		messages:  s.messages - prev.messages,
	}
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats renders one interval's worth of counters.
func formatStats(d snapshot, interval time.Duration) string {
	secs := interval.Seconds()
	return fmt.Sprintf("In: %s/s | Out: %s/s | Pkts: %d↑ %d↓ | Resends: %d | CRC fails: %d | Msgs: %d",
		formatBytes(float64(d.bytesRecv)/secs),
		formatBytes(float64(d.bytesSent)/secs),
		d.sent,
		d.recv,
		d.resends,
		d.integrity,
		d.messages,
	)
}
