package voice

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"merch-copilot/internal/domain"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// fakeRecorder hands out a scripted stream.
type fakeRecorder struct {
	available bool
	openErr   error
	stream    func() io.ReadCloser
}

func (f *fakeRecorder) Available() bool { return f.available }

func (f *fakeRecorder) Open(ctx context.Context) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream(), nil
}

// endlessStream produces PCM forever, paced like a live microphone.
type endlessStream struct{}

func (endlessStream) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (endlessStream) Close() error { return nil }

// fakeTranscriber reports the cumulative utterance length it was given.
type fakeTranscriber struct {
	mu   sync.Mutex
	lens []int
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.lens = append(f.lens, len(wav)-44)
	return fmt.Sprintf("heard %d", len(wav)-44), nil
}

// sinkRecorder collects interim transcripts.
type sinkRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (s *sinkRecorder) sink(text string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *sinkRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.texts)
}

func (s *sinkRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

func waitFor(cond func() bool, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return false
}

func TestSupported(t *testing.T) {
	tr := &fakeTranscriber{}
	cases := []struct {
		name string
		r    *Recognizer
		want bool
	}{
		{"full stack", NewRecognizer(&fakeRecorder{available: true}, tr, "en", 0, 0, testLogger()), true},
		{"no recorder binary", NewRecognizer(&fakeRecorder{available: false}, tr, "en", 0, 0, testLogger()), false},
		{"no transcriber", NewRecognizer(&fakeRecorder{available: true}, nil, "en", 0, 0, testLogger()), false},
	}
	for _, tc := range cases {
		if got := tc.r.Supported(); got != tc.want {
			t.Errorf("%s: Supported() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestStart_UnsupportedRejects(t *testing.T) {
	r := NewRecognizer(&fakeRecorder{available: false}, &fakeTranscriber{}, "en", 0, 0, testLogger())
	err := r.Start(context.Background(), func(string) {})
	if !errors.Is(err, domain.ErrRecognizerUnsupported) {
		t.Fatalf("Start = %v, want ErrRecognizerUnsupported", err)
	}
}

func TestStart_SecondSessionRejected(t *testing.T) {
	rec := &fakeRecorder{available: true, stream: func() io.ReadCloser { return endlessStream{} }}
	r := NewRecognizer(rec, &fakeTranscriber{}, "en", 50*time.Millisecond, 10*time.Second, testLogger())

	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer r.Stop()

	if err := r.Start(context.Background(), func(string) {}); !errors.Is(err, domain.ErrRecognizerBusy) {
		t.Fatalf("second Start = %v, want ErrRecognizerBusy", err)
	}
}

func TestCapture_GrowAndReplaceTranscripts(t *testing.T) {
	// 2.5 segments of audio: two full reads plus a short tail.
	segment := 100 * time.Millisecond
	segBytes := int(segment.Seconds() * bytesPerSecond)
	pcm := make([]byte, segBytes*2+segBytes/2)
	rec := &fakeRecorder{available: true, stream: func() io.ReadCloser {
		return io.NopCloser(bytes.NewReader(pcm))
	}}
	tr := &fakeTranscriber{}
	sink := &sinkRecorder{}
	r := NewRecognizer(rec, tr, "en", segment, 10*time.Second, testLogger())

	if err := r.Start(context.Background(), sink.sink); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !waitFor(func() bool { return sink.count() == 3 }, 2*time.Second) {
		t.Fatalf("got %d transcripts, want 3", sink.count())
	}
	r.Stop()

	// Each interim result covers the whole utterance so far.
	if got, want := sink.last(), fmt.Sprintf("heard %d", len(pcm)); got != want {
		t.Fatalf("final transcript %q, want %q", got, want)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i := 1; i < len(tr.lens); i++ {
		if tr.lens[i] <= tr.lens[i-1] {
			t.Fatalf("utterance shrank between calls %d and %d", i-1, i)
		}
	}
}

func TestStart_RecorderFailureEndsSilently(t *testing.T) {
	rec := &fakeRecorder{available: true, openErr: errors.New("device busy")}
	r := NewRecognizer(rec, &fakeTranscriber{}, "en", 0, 0, testLogger())

	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("capture errors must not surface: %v", err)
	}
	// the failed session must not leave the recognizer busy
	rec.openErr = nil
	rec.stream = func() io.ReadCloser { return io.NopCloser(bytes.NewReader(nil)) }
	if err := r.Start(context.Background(), func(string) {}); errors.Is(err, domain.ErrRecognizerBusy) {
		t.Fatal("recognizer stuck busy after failed open")
	}
	r.Stop()
}

func TestNilLoggerOnFailurePaths(t *testing.T) {
	// open failure
	rec := &fakeRecorder{available: true, openErr: errors.New("device busy")}
	r := NewRecognizer(rec, &fakeTranscriber{}, "en", 0, 0, nil)
	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// transcription failure
	segment := 20 * time.Millisecond
	segBytes := int(segment.Seconds() * bytesPerSecond)
	rec = &fakeRecorder{available: true, stream: func() io.ReadCloser {
		return io.NopCloser(bytes.NewReader(make([]byte, segBytes)))
	}}
	r = NewRecognizer(rec, &fakeTranscriber{err: errors.New("quota exceeded")}, "en", segment, 10*time.Second, nil)
	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()
}

func TestStop_AllowsNewSession(t *testing.T) {
	rec := &fakeRecorder{available: true, stream: func() io.ReadCloser { return endlessStream{} }}
	r := NewRecognizer(rec, &fakeTranscriber{}, "en", 20*time.Millisecond, 10*time.Second, testLogger())

	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop()

	if err := r.Start(context.Background(), func(string) {}); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	r.Stop()
}

func TestWavContainer(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	wav := wavContainer(pcm)
	if len(wav) != 44+len(pcm) {
		t.Fatalf("length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatal("bad chunk markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != sampleRate {
		t.Fatalf("sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Fatalf("data length %d", got)
	}
	if !bytes.Equal(wav[44:], pcm) {
		t.Fatal("payload mismatch")
	}
}
