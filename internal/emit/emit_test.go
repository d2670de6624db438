package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/circuitbreaker"
	"github.com/gustycube/balkansim/internal/types"
)

type fakeSink struct {
	name    string
	mu      sync.Mutex
	fail    bool
	batches []types.Batch
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, b types.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("unavailable")
	}
	f.batches = append(f.batches, b)
	return nil
}

func (f *fakeSink) received() []types.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Batch(nil), f.batches...)
}

func samples(n int) []types.Sample {
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = types.Sample{RunID: "r", Step: i}
	}
	return out
}

func TestEmitter_FlushesFullBatches(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	e := NewEmitter("r", 3, time.Hour, "", nil, zap.NewNop().Sugar(), sink)

	in := make(chan types.Sample)
	done := make(chan struct{})
	go func() {
		e.Run(context.Background(), in)
		close(done)
	}()
	for _, s := range samples(7) {
		in <- s
	}
	close(in)
	<-done
	e.Drain(context.Background())

	got := sink.received()
	if len(got) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(got))
	}
	sizes := []int{len(got[0].Samples), len(got[1].Samples), len(got[2].Samples)}
	if sizes[0] != 3 || sizes[1] != 3 || sizes[2] != 1 {
		t.Errorf("unexpected batch sizes %v", sizes)
	}
	if got[0].RunID != "r" || got[0].BatchID == "" || got[0].BatchID == got[1].BatchID {
		t.Errorf("batches need the run id and distinct batch ids: %+v", got[0])
	}
}

func TestEmitter_FlushesOnTimer(t *testing.T) {
	sink := &fakeSink{name: "fake"}
	e := NewEmitter("r", 100, 20*time.Millisecond, "", nil, zap.NewNop().Sugar(), sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	in := make(chan types.Sample, 1)
	go e.Run(ctx, in)
	in <- types.Sample{Step: 1}

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.received()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sink.received()) != 1 {
		t.Fatal("expected the timer to flush the pending sample")
	}
}

func TestEmitter_SpoolsAndDrains(t *testing.T) {
	dir := t.TempDir()
	bad := &fakeSink{name: "bad", fail: true}
	good := &fakeSink{name: "good"}
	breakers := circuitbreaker.NewSinkBreaker(&circuitbreaker.Config{FailureThreshold: 5, Timeout: time.Millisecond})
	e := NewEmitter("r", 2, time.Hour, dir, breakers, zap.NewNop().Sugar(), bad, good)

	for _, s := range samples(2) {
		e.append(s)
	}
	e.flush(context.Background())

	if len(good.received()) != 1 {
		t.Errorf("a failing sink must not block the others")
	}
	files, _ := filepath.Glob(filepath.Join(dir, "bad_*.json"))
	if len(files) != 1 {
		t.Fatalf("expected one spool file for the failing sink, got %v", files)
	}

	bad.mu.Lock()
	bad.fail = false
	bad.mu.Unlock()
	e.Drain(context.Background())

	if got := bad.received(); len(got) != 1 || len(got[0].Samples) != 2 {
		t.Errorf("expected the spooled batch to be resent, got %+v", got)
	}
	if _, err := os.Stat(files[0]); !os.IsNotExist(err) {
		t.Errorf("spool file should be removed after delivery")
	}
	if len(good.received()) != 1 {
		t.Errorf("healthy sink must not receive the spooled batch again")
	}
}

func TestEmitter_DrainRetriesOpenBreaker(t *testing.T) {
	dir := t.TempDir()
	sink := &fakeSink{name: "flaky", fail: true}
	breakers := circuitbreaker.NewSinkBreaker(&circuitbreaker.Config{FailureThreshold: 1, Timeout: time.Hour})
	e := NewEmitter("r", 10, time.Hour, dir, breakers, zap.NewNop().Sugar(), sink)

	e.append(types.Sample{Step: 1})
	e.flush(context.Background())
	if breakers.State("flaky") != circuitbreaker.StateOpen {
		t.Fatalf("expected the breaker to open, got %v", breakers.State("flaky"))
	}

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()
	e.Drain(context.Background())

	if len(sink.received()) != 1 {
		t.Fatal("the spooled batch must be delivered despite the earlier open breaker")
	}
	if got := breakers.Stats()["flaky"]; got != "closed" {
		t.Errorf("expected a fresh closed breaker, got %q", got)
	}
	if files, _ := filepath.Glob(filepath.Join(dir, "flaky_*.json")); len(files) != 0 {
		t.Errorf("spool should be empty, got %v", files)
	}
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	if err := s.Send(context.Background(), types.Batch{RunID: "r", Samples: samples(2)}); err != nil {
		t.Fatal(err)
	}
	var b types.Batch
	if err := json.Unmarshal(buf.Bytes(), &b); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if b.RunID != "r" || len(b.Samples) != 2 {
		t.Errorf("unexpected batch %+v", b)
	}
}

func TestHTTPSink_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content type %q", r.Header.Get("Content-Type"))
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(srv.URL, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	s.maxElapsed = 5 * time.Second
	if err := s.Send(context.Background(), types.Batch{RunID: "r"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestHTTPSink_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := NewHTTPSink(srv.URL, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Send(context.Background(), types.Batch{}); err == nil {
		t.Fatal("expected an error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestNewHTTPSink_BadCertificates(t *testing.T) {
	if _, err := NewHTTPSink("https://example.com", "missing.pem", "missing.key", ""); err == nil {
		t.Error("expected an error for a missing client certificate")
	}
	ca := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(ca, []byte("not a certificate"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHTTPSink("https://example.com", "", "", ca); err == nil {
		t.Error("expected an error for an empty CA bundle")
	}
}

func TestRedisSink(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisSink(ctx, addr, "balkansim:test:"+time.Now().Format("150405.000000"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	defer s.cli.Del(ctx, s.key)

	if err := s.Send(ctx, types.Batch{RunID: "r", Samples: samples(1)}); err != nil {
		t.Fatal(err)
	}
	n, err := s.cli.LLen(ctx, s.key).Result()
	if err != nil || n != 1 {
		t.Errorf("expected one list entry, got %d (%v)", n, err)
	}
}
