package finisher

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/kartikbazzad/hexwar/pkg/logger"
	"github.com/kartikbazzad/hexwar/wire"
)

// Sink is the passive receiving side of a finishing attack: it counts
// bytes and holds the stream open until the peer closes it. It never
// writes anything back beyond the final HTTP status.
type Sink struct {
	log *slog.Logger
}

func NewSink() *Sink { return &Sink{log: logger.Named("finisher.sink")} }

// ServeHTTP reads framed payloads from the request body until EOF or the
// request context ends, discarding their contents.
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var frames, bytesTotal int
	for {
		frame, err := wire.ReadFinisherFrame(r.Body)
		if err != nil {
			if err != io.EOF {
				s.log.Debug("finisher sink stream ended", "error", err, "frames", frames, "bytes", bytesTotal)
			}
			break
		}
		frames++
		bytesTotal += len(frame)
	}
	s.log.Info("finisher sink drained stream", "remote", r.RemoteAddr, "frames", frames, "bytes", bytesTotal)
	w.WriteHeader(http.StatusOK)
}
