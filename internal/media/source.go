// Package media supplies local video tracks and consumes inbound ones.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"

	"github.com/AsafMeizner/reels-battle/internal/peer"
)

// ErrCaptureDenied means no local media could be acquired. The caller may retry.
var ErrCaptureDenied = errors.New("media capture denied")

const defaultFrameDuration = 33 * time.Millisecond

// FileSource plays an IVF file (VP8 or VP9) in a loop as the local video track.
// The track is created on the first Capture and reused afterwards.
type FileSource struct {
	Path string

	mu    sync.Mutex
	track *webrtc.TrackLocalStaticSample
	log   *slog.Logger
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path, log: slog.Default().With("source", path)}
}

// Capture returns the looping track. Playback stops when ctx is done.
func (s *FileSource) Capture(ctx context.Context) ([]peer.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track != nil {
		return []peer.Track{s.track}, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("%w: no video source configured", ErrCaptureDenied)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrCaptureDenied, err)
		}
		return nil, fmt.Errorf("open video source: %w", err)
	}
	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: read ivf header: %v", ErrCaptureDenied, err)
	}

	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	default:
		f.Close()
		return nil, fmt.Errorf("%w: unsupported codec %q", ErrCaptureDenied, header.FourCC)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime},
		"video",
		"reels-"+uuid.NewString(),
	)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create track: %w", err)
	}
	s.track = track

	frameDuration := defaultFrameDuration
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}

	if s.log == nil {
		s.log = slog.Default().With("source", s.Path)
	}
	go s.play(ctx, f, reader, track, frameDuration)
	return []peer.Track{track}, nil
}

func (s *FileSource) play(ctx context.Context, f *os.File, reader *ivfreader.IVFReader, track *webrtc.TrackLocalStaticSample, d time.Duration) {
	defer func() {
		f.Close()
		s.mu.Lock()
		s.track = nil
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := reader.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				s.log.Error("rewind video source", "error", err)
				return
			}
			if reader, _, err = ivfreader.NewWith(f); err != nil {
				s.log.Error("rewind video source", "error", err)
				return
			}
			continue
		}
		if err != nil {
			s.log.Error("read video frame", "error", err)
			return
		}

		if err := track.WriteSample(pionmedia.Sample{Data: frame, Duration: d}); err != nil {
			s.log.Warn("write video sample", "error", err)
		}
	}
}
