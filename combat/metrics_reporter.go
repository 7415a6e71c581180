package combat

import (
	"context"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kartikbazzad/hexwar/event"
	"github.com/kartikbazzad/hexwar/gamestate"
	"github.com/kartikbazzad/hexwar/hex"
	"github.com/kartikbazzad/hexwar/pkg/logger"
)

// reportInterval is the self-metrics cadence.
const reportInterval = 5 * time.Second

// MetricsReporter submits this node's own MetricsReport every
// reportInterval. Loss authority is defender-side throughout hexwar, so
// the capture controller always compares like with like: the receiver
// reports
// packet_loss = 1 - (received_this_interval / expected_this_interval),
// where expected_this_interval is inferred from the highest attack
// sequence number observed growing during the interval.
type MetricsReporter struct {
	game     *gamestate.Game
	receiver *Receiver
	coord    hex.Coord
	log      *slog.Logger
}

func NewMetricsReporter(game *gamestate.Game, receiver *Receiver, coord hex.Coord) *MetricsReporter {
	return &MetricsReporter{
		game:     game,
		receiver: receiver,
		coord:    coord,
		log:      logger.Named("combat.metrics", "node", coord.String()),
	}
}

// Run submits one MetricsReport every reportInterval until ctx is done.
func (r *MetricsReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	var lastHighestSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			bytesIn := r.receiver.BytesReceivedSince()
			received := r.receiver.ReceivedThisInterval()
			highestSeq := r.receiver.HighestSeqSeen()

			expected := highestSeq - lastHighestSeq
			lastHighestSeq = highestSeq

			var loss float32
			if expected > 0 {
				ratio := float32(received) / float32(expected)
				loss = 1 - ratio
				if loss < 0 {
					loss = 0
				}
				if loss > 1 {
					loss = 1
				}
			}

			bandwidthIn := bytesIn / uint64(reportInterval/time.Second)

			ev := event.MetricsReport(r.coord, bandwidthIn, loss, now.UnixMicro())
			appendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			_, err := r.game.AppendForward(appendCtx, ev)
			cancel()
			if err != nil {
				r.log.Warn("failed to submit metrics report", "error", err)
				continue
			}

			r.log.Debug("reported metrics",
				"bandwidth_in", humanize.Bytes(bandwidthIn)+"/s",
				"packet_loss", loss)
		}
	}
}
