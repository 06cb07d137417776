package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// ErrTranscoderMissing means ffmpeg is not on PATH; the caller answers 503.
var ErrTranscoderMissing = errors.New("stream: transcoder binary not found")

// Process is one running transcoder owned by a single connection.
type Process interface {
	Stdout() io.Reader
	// Stop kills and reaps the child. Idempotent; safe after natural exit.
	Stop()
}

// Runner spawns transcoders. audioIndex is the absolute input stream index
// of the preferred audio track, or -1 for the first audio stream.
type Runner interface {
	Check() error
	Start(ctx context.Context, source string, offsetSeconds, audioIndex int) (Process, error)
}

// FFmpegRunner runs the real ffmpeg binary.
type FFmpegRunner struct {
	// Binary overrides the ffmpeg lookup, for non-PATH installs.
	Binary string
}

func (r *FFmpegRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "ffmpeg"
}

// Check reports whether the transcoder binary is resolvable.
func (r *FFmpegRunner) Check() error {
	if _, err := exec.LookPath(r.binary()); err != nil {
		return fmt.Errorf("%w: %s", ErrTranscoderMissing, r.binary())
	}
	return nil
}

// BuildArgs assembles the ffmpeg argument list: seek to offset, explicit
// video + audio mapping, H.264 1080p cap, AAC stereo, MPEG-TS to stdout.
func BuildArgs(source string, offsetSeconds, audioIndex int) []string {
	audioMap := "0:a:0"
	if audioIndex >= 0 {
		audioMap = "0:" + strconv.Itoa(audioIndex)
	}
	return []string{
		"-ss", strconv.Itoa(offsetSeconds),
		"-probesize", "262144",
		"-analyzeduration", "1000000",
		"-fflags", "nobuffer",
		"-i", source,
		// Any explicit -map disables automatic stream selection, so both
		// video and audio must be mapped.
		"-map", "0:v:0",
		"-map", audioMap,
		"-vf", `scale=-2:min(1080\,ih)`,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-crf", "20",
		"-maxrate", "8000k",
		"-bufsize", "4000k",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ac", "2",
		"-f", "mpegts",
		"-loglevel", "warning",
		"pipe:1",
	}
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	once   sync.Once
}

func (p *ffmpegProcess) Stdout() io.Reader { return p.stdout }

func (p *ffmpegProcess) Stop() {
	p.once.Do(func() {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cmd.Wait()
	})
}

// Start spawns ffmpeg bound to ctx; cancelling ctx kills the child.
func (r *FFmpegRunner) Start(ctx context.Context, source string, offsetSeconds, audioIndex int) (Process, error) {
	path, err := exec.LookPath(r.binary())
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTranscoderMissing, r.binary())
	}
	cmd := exec.CommandContext(ctx, path, BuildArgs(source, offsetSeconds, audioIndex)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("transcoder stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start transcoder: %w", err)
	}
	return &ffmpegProcess{cmd: cmd, stdout: stdout}, nil
}
