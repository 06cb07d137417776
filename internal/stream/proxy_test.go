package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/jellystream/jellystream/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advanceTo(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type startRecord struct {
	source string
	offset int
	audio  int
}

// fakeRunner emits a fixed payload per start and advances the fake clock
// past the current entry when the payload drains, imitating a transcoder
// that ran the programme to its end.
type fakeRunner struct {
	mu      sync.Mutex
	starts  []startRecord
	payload []byte
	clock   *fakeClock
	entries []store.ScheduleEntry
	cancel  context.CancelFunc
	maxRuns int
}

func (r *fakeRunner) Check() error { return nil }

func (r *fakeRunner) Start(_ context.Context, source string, offset, audio int) (Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run := len(r.starts)
	r.starts = append(r.starts, startRecord{source, offset, audio})
	if run+1 >= r.maxRuns && r.cancel != nil {
		// Last permitted programme: cancel once its payload drains.
		return &fakeProcess{data: r.payload, onDone: r.cancel}, nil
	}
	end := r.entries[run].EndTime
	clock := r.clock
	return &fakeProcess{data: r.payload, onDone: func() { clock.advanceTo(end) }}, nil
}

type fakeProcess struct {
	data   []byte
	pos    int
	onDone func()
	once   sync.Once
}

func (p *fakeProcess) Stdout() io.Reader { return p }

func (p *fakeProcess) Read(b []byte) (int, error) {
	if p.pos >= len(p.data) {
		p.once.Do(p.onDone)
		return 0, io.EOF
	}
	n := copy(b, p.data[p.pos:])
	p.pos += n
	return n, nil
}

func (p *fakeProcess) Stop() {}

type pathResolver struct{}

func (pathResolver) Resolve(_ context.Context, e *store.ScheduleEntry) (string, error) {
	if e.FilePath == "" {
		return "", errors.New("no source")
	}
	return e.FilePath, nil
}

func proxyFixture(t *testing.T) (*Proxy, *store.Store, *fakeClock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "stream.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)}
	p := &Proxy{
		Store:    s,
		Resolver: pathResolver{},
		Log:      zerolog.Nop(),
		Clock:    clock.now,
		GapPoll:  5 * time.Millisecond,
	}
	return p, s, clock
}

func seedEntries(t *testing.T, s *store.Store) []store.ScheduleEntry {
	t.Helper()
	ch := &store.Channel{Name: "C", Enabled: true}
	ctx := context.Background()
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []store.ScheduleEntry{
		{ChannelID: ch.ID, Title: "First", MediaItemID: "m1", ItemType: "Movie",
			StartTime: base, EndTime: base.Add(time.Hour), Duration: 3600, FilePath: "/v/first.mkv"},
		{ChannelID: ch.ID, Title: "Second", MediaItemID: "m2", ItemType: "Movie",
			StartTime: base.Add(time.Hour), EndTime: base.Add(2 * time.Hour), Duration: 3600, FilePath: "/v/second.mkv"},
	}
	if err := s.InsertEntries(ctx, entries); err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestNowPlayingOffsetAndGap(t *testing.T) {
	p, s, clock := proxyFixture(t)
	entries := seedEntries(t, s)
	ctx := context.Background()

	e, offset, err := p.NowPlaying(ctx, entries[0].ChannelID)
	if err != nil {
		t.Fatalf("NowPlaying: %v", err)
	}
	if e.Title != "First" || offset != 30 {
		t.Errorf("entry=%q offset=%d, want First/30", e.Title, offset)
	}

	clock.advanceTo(time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC))
	if _, _, err := p.NowPlaying(ctx, entries[0].ChannelID); !errors.Is(err, ErrNoEntry) {
		t.Errorf("gap err = %v, want ErrNoEntry", err)
	}
}

func TestRunTransitionsBetweenEntries(t *testing.T) {
	p, s, clock := proxyFixture(t)
	entries := seedEntries(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{
		payload: []byte("TSDATA"),
		clock:   clock,
		entries: entries,
		cancel:  cancel,
		maxRuns: 2,
	}
	p.Runner = runner

	var out bytes.Buffer
	err := p.Run(ctx, entries[0].ChannelID, &out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}

	if len(runner.starts) != 2 {
		t.Fatalf("transcoder started %d times, want 2", len(runner.starts))
	}
	if runner.starts[0].source != "/v/first.mkv" || runner.starts[0].offset != 30 {
		t.Errorf("first start = %+v", runner.starts[0])
	}
	if runner.starts[1].source != "/v/second.mkv" || runner.starts[1].offset != 0 {
		t.Errorf("second start = %+v", runner.starts[1])
	}
	if got := out.String(); got != "TSDATATSDATA" {
		t.Errorf("client bytes = %q", got)
	}
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("client gone") }

func TestRunStopsOnClientWriteError(t *testing.T) {
	p, s, clock := proxyFixture(t)
	entries := seedEntries(t, s)

	ctx := context.Background()
	runner := &fakeRunner{payload: []byte("X"), clock: clock, entries: entries, maxRuns: 99}
	p.Runner = runner

	if err := p.Run(ctx, entries[0].ChannelID, brokenWriter{}); err != nil {
		t.Fatalf("broken client should end the stream cleanly, got %v", err)
	}
	if len(runner.starts) != 1 {
		t.Errorf("starts = %d, want 1", len(runner.starts))
	}
}

func TestRunGapPollsUntilCancelled(t *testing.T) {
	p, s, clock := proxyFixture(t)
	entries := seedEntries(t, s)
	clock.advanceTo(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)) // past all entries

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	p.Runner = &fakeRunner{maxRuns: 99}

	var out bytes.Buffer
	err := p.Run(ctx, entries[0].ChannelID, &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v, want deadline exceeded", err)
	}
	if out.Len() != 0 {
		t.Error("gap produced output bytes")
	}
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("/v/a.mkv", 42, -1)
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"-ss 42", "-i /v/a.mkv", "-map 0:v:0", "-map 0:a:0",
		"-c:v libx264", "-preset veryfast", "-tune zerolatency",
		"-crf 20", "-maxrate 8000k", "-bufsize 4000k",
		"-c:a aac", "-b:a 192k", "-ac 2", "-f mpegts", "pipe:1",
		`scale=-2:min(1080\,ih)`,
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %s", want, joined)
		}
	}

	withAudio := strings.Join(BuildArgs("/v/a.mkv", 0, 3), " ")
	if !strings.Contains(withAudio, "-map 0:3") {
		t.Errorf("preferred audio map missing: %s", withAudio)
	}
	if strings.Contains(withAudio, "0:a:0") {
		t.Errorf("default audio map present alongside preferred: %s", withAudio)
	}
}

func TestFFProbeAudioDegradesToDefault(t *testing.T) {
	p := &FFProbeAudio{Language: "eng", Binary: "/nonexistent/ffprobe", Log: zerolog.Nop()}
	if idx := p.PreferredAudioIndex(context.Background(), "/v/a.mkv"); idx != -1 {
		t.Errorf("missing binary should yield -1, got %d", idx)
	}
	empty := &FFProbeAudio{Language: ""}
	if idx := empty.PreferredAudioIndex(context.Background(), "/v/a.mkv"); idx != -1 {
		t.Errorf("empty language should yield -1, got %d", idx)
	}
}
