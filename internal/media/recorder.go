package media

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"

	"github.com/AsafMeizner/reels-battle/internal/peer"
)

const pliInterval = 3 * time.Second

// Recorder consumes inbound video. With Dir set, VP8 tracks are written to
// <Dir>/<sharer>-<track>.ivf; everything else is read and discarded.
type Recorder struct {
	Dir string
	log *slog.Logger
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{Dir: dir, log: slog.Default().With("component", "recorder")}
}

// Handle is a peer.TrackHandler.
func (r *Recorder) Handle(remoteID string, track *webrtc.TrackRemote, w peer.RTCPWriter) {
	log := r.log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("peer", remoteID, "track", track.ID())

	done := make(chan struct{})
	defer close(done)

	// Ask for a key frame now and then so late viewers get a picture.
	go func() {
		ticker := time.NewTicker(pliInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := w.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}}); err != nil {
					return
				}
			}
		}
	}()

	if r.Dir == "" || !strings.EqualFold(track.Codec().MimeType, webrtc.MimeTypeVP8) {
		drain(track)
		return
	}

	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		log.Error("create recording dir", "error", err)
		drain(track)
		return
	}
	path := filepath.Join(r.Dir, fmt.Sprintf("%s-%s.ivf", remoteID, track.ID()))
	writer, err := ivfwriter.New(path)
	if err != nil {
		log.Error("create recording", "path", path, "error", err)
		drain(track)
		return
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.Warn("close recording", "error", err)
		}
	}()

	log.Info("recording stream", "path", path)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if err := writer.WriteRTP(pkt); err != nil {
			log.Warn("write recording", "error", err)
			return
		}
	}
}

func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
