package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/circuitbreaker"
	"github.com/gustycube/balkansim/internal/metrics"
	"github.com/gustycube/balkansim/internal/types"
)

// Sink ships a batch of samples somewhere.
type Sink interface {
	Name() string
	Send(ctx context.Context, b types.Batch) error
}

// Emitter accumulates samples into batches and fans each batch out to every
// sink. A batch a sink cannot take is spooled to disk for that sink and
// retried on Drain.
type Emitter struct {
	runID      string
	batchMax   int
	flushEvery time.Duration
	spoolDir   string
	sinks      []Sink
	breakers   *circuitbreaker.SinkBreaker
	log        *zap.SugaredLogger

	mu  sync.Mutex
	acc []types.Sample
}

func NewEmitter(runID string, batchMax int, flushEvery time.Duration, spoolDir string, breakers *circuitbreaker.SinkBreaker, log *zap.SugaredLogger, sinks ...Sink) *Emitter {
	if breakers == nil {
		breakers = circuitbreaker.NewSinkBreaker(nil)
	}
	if spoolDir != "" {
		_ = os.MkdirAll(spoolDir, 0o755)
	}
	return &Emitter{
		runID: runID, batchMax: batchMax, flushEvery: flushEvery, spoolDir: spoolDir,
		sinks: sinks, breakers: breakers, log: log,
	}
}

// Run consumes samples until in is closed or ctx is done, flushing whenever a
// batch fills up or the flush interval elapses.
func (e *Emitter) Run(ctx context.Context, in <-chan types.Sample) {
	t := time.NewTimer(e.flushEvery)
	defer t.Stop()
	for {
		select {
		case s, ok := <-in:
			if !ok {
				return
			}
			if e.append(s) >= e.batchMax {
				e.flush(ctx)
				if !t.Stop() {
					select {
					case <-t.C:
					default:
					}
				}
				t.Reset(e.flushEvery)
			}
		case <-t.C:
			e.flush(ctx)
			t.Reset(e.flushEvery)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Emitter) append(s types.Sample) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.acc = append(e.acc, s)
	return len(e.acc)
}

func (e *Emitter) take() (types.Batch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.acc) == 0 {
		return types.Batch{}, false
	}
	b := types.Batch{
		RunID:     e.runID,
		BatchID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Samples:   e.acc,
	}
	e.acc = nil
	return b, true
}

func (e *Emitter) flush(ctx context.Context) {
	b, ok := e.take()
	if !ok {
		return
	}
	for _, s := range e.sinks {
		err := e.breakers.Execute(s.Name(), func() error { return s.Send(ctx, b) })
		if err == nil {
			metrics.BatchesTotal.WithLabelValues(s.Name(), "ok").Inc()
			continue
		}
		metrics.BatchesTotal.WithLabelValues(s.Name(), "spooled").Inc()
		e.log.Warnw("sink failed, spooling", "sink", s.Name(), "batch", b.BatchID, "samples", len(b.Samples), "err", err)
		e.spool(s.Name(), b)
	}
}

func (e *Emitter) spool(sink string, b types.Batch) {
	if e.spoolDir == "" {
		return
	}
	name := sink + "_" + time.Now().UTC().Format("20060102T150405.000000000") + ".json"
	path := filepath.Join(e.spoolDir, name)
	f, err := os.Create(path)
	if err != nil {
		e.log.Errorw("spool create", "err", err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(b); err != nil {
		e.log.Errorw("spool write", "path", path, "err", err)
	}
}

// Drain flushes what is buffered and resends spooled batches to the sinks
// they were spooled for. Sinks whose breaker is open get one more attempt.
// Spool files whose sink is gone are left in place.
func (e *Emitter) Drain(ctx context.Context) {
	e.flush(ctx)
	if e.spoolDir == "" {
		return
	}
	bySink := make(map[string]Sink, len(e.sinks))
	for _, s := range e.sinks {
		bySink[s.Name()] = s
		if e.breakers.State(s.Name()) == circuitbreaker.StateOpen {
			e.log.Infow("retrying sink with open breaker", "sink", s.Name())
			e.breakers.Reset(s.Name())
		}
	}

	entries, _ := os.ReadDir(e.spoolDir)
	for _, ent := range entries {
		name, _, ok := strings.Cut(ent.Name(), "_")
		sink, known := bySink[name]
		if ent.IsDir() || !ok || !known {
			continue
		}
		p := filepath.Join(e.spoolDir, ent.Name())
		if err := e.resend(ctx, sink, p); err != nil {
			e.log.Warnw("spooled batch not delivered", "sink", name, "path", p, "err", err)
			continue
		}
		_ = os.Remove(p)
	}
}

func (e *Emitter) resend(ctx context.Context, sink Sink, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var b types.Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode spool file: %w", err)
	}
	return e.breakers.Execute(sink.Name(), func() error { return sink.Send(ctx, b) })
}
