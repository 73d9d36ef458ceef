package player

import (
	"bytes"
	"errors"
	"log/slog"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrNotWAV = errors.New("player: blob is not a decodable WAV file")

// WAVSink validates incoming blobs as WAV audio and tracks the decoded
// format. The actual output device lives outside the core; this sink is
// what ships with the terminal client, where "playback" is the decoded
// stream's metadata plus a running position.
type WAVSink struct {
	log *slog.Logger

	title    string
	format   *audio.Format
	duration time.Duration
}

func NewWAVSink(logger *slog.Logger) *WAVSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WAVSink{log: logger.With("src", "wavsink")}
}

func (s *WAVSink) Play(title string, data []byte) error {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return ErrNotWAV
	}

	dur, err := dec.Duration()
	if err != nil {
		return ErrNotWAV
	}

	s.title = title
	s.format = dec.Format()
	s.duration = dur

	s.log.Info("playing",
		"title", title,
		"duration", dur,
		"sample_rate", s.format.SampleRate,
		"channels", s.format.NumChannels,
	)
	return nil
}

func (s *WAVSink) Pause() {
	s.log.Info("paused", "title", s.title)
}

func (s *WAVSink) Resume() {
	s.log.Info("continuing", "title", s.title)
}

func (s *WAVSink) Stop() {
	s.log.Info("stopped", "title", s.title)
	s.title = ""
	s.format = nil
	s.duration = 0
}
