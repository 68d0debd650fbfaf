// Package audio captures microphone audio through ffmpeg, either as a
// raw PCM stream or as an opus track attachable to a peer connection.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"murmur/internal/ports"
)

const opusFrameDuration = 20 * time.Millisecond

// Cleans up breathing noise and level differences before encoding.
const voiceFilter = "highpass=f=80,afftdn,loudnorm"

// FFMPEGCapture implements ports.MediaCapture on top of an ffmpeg
// subprocess.
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Supported reports whether the capture command exists on PATH.
func (c *FFMPEGCapture) Supported() bool {
	_, err := exec.LookPath(c.command)
	return err == nil
}

// Stream starts a raw s16le PCM capture for the websocket transport.
func (c *FFMPEGCapture) Stream(ctx context.Context, cfg ports.CaptureConfig) (ports.AudioStream, error) {
	cfg = withDefaults(cfg)
	args := inputArgs(cfg)
	args = append(args,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-af", voiceFilter,
		"-f", "s16le",
		"-",
	)
	return c.start(ctx, args)
}

// Track starts an opus capture and bridges it onto a webrtc track. The
// track begins disabled; encoded frames read while disabled are
// dropped.
func (c *FFMPEGCapture) Track(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureTrack, error) {
	cfg = withDefaults(cfg)
	args := inputArgs(cfg)
	args = append(args,
		"-ac", "1",
		"-ar", "48000",
		"-af", voiceFilter,
		"-c:a", "libopus",
		"-application", "voip",
		"-frame_duration", "20",
		"-f", "ogg",
		"-",
	)

	session, err := c.start(ctx, args)
	if err != nil {
		return nil, err
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"audio", "murmur-mic",
	)
	if err != nil {
		_ = session.Stop()
		return nil, fmt.Errorf("create opus track: %w", err)
	}

	track := &opusTrack{local: local, session: session}
	go track.pump()
	return track, nil
}

func withDefaults(cfg ports.CaptureConfig) ports.CaptureConfig {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	return cfg
}

func inputArgs(cfg ports.CaptureConfig) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
	}
}

// start launches ffmpeg and gives it a moment to fail fast on a bad
// device before handing the stream out.
func (c *FFMPEGCapture) start(ctx context.Context, args []string) (*ffmpegStream, error) {
	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimmed(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Close() error {
	return s.Stop()
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
	})

	return s.stopErr
}

// opusTrack feeds ogg-encapsulated opus packets from ffmpeg into a
// static sample track.
type opusTrack struct {
	local   *webrtc.TrackLocalStaticSample
	session *ffmpegStream

	mu      sync.Mutex
	enabled bool
}

func (t *opusTrack) Local() webrtc.TrackLocal { return t.local }

func (t *opusTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *opusTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *opusTrack) Stop() error {
	return t.session.Stop()
}

func (t *opusTrack) pump() {
	reader := newOggReader(t.session)
	for {
		packet, err := reader.NextPacket()
		if err != nil {
			return
		}
		if isOpusHeader(packet) {
			continue
		}
		if !t.Enabled() {
			continue
		}
		err = t.local.WriteSample(media.Sample{Data: packet, Duration: opusFrameDuration})
		if err != nil {
			return
		}
	}
}

// isOpusHeader matches the OpusHead and OpusTags stream headers that
// precede the audio packets in an ogg opus stream.
func isOpusHeader(packet []byte) bool {
	return len(packet) >= 8 && string(packet[:4]) == "Opus"
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
