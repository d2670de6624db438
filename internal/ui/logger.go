// Package ui draws a single self-overwriting progress line on stderr and keeps
// log records from tearing it.
package ui

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/types"
)

// InteractiveLogger interleaves zap records with a progress line.
type InteractiveLogger struct {
	log     *zap.SugaredLogger
	out     io.Writer
	enabled bool
	stats   *RunStats

	mu       sync.Mutex
	line     string
	stopSpin chan struct{}
}

// NewInteractiveLogger draws progress only when asked to and stderr is a terminal,
// so series written to stdout are never mixed with it.
func NewInteractiveLogger(log *zap.SugaredLogger, showProgress bool) *InteractiveLogger {
	return &InteractiveLogger{
		log:     log,
		out:     os.Stderr,
		enabled: showProgress && isTerminal(os.Stderr),
		stats:   NewRunStats(),
	}
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// draw replaces the current progress line. Callers hold il.mu.
func (il *InteractiveLogger) draw(s string) {
	il.erase()
	io.WriteString(il.out, s+"\r")
	il.line = s
}

// erase blanks the current progress line. Callers hold il.mu.
func (il *InteractiveLogger) erase() {
	if il.line == "" {
		return
	}
	io.WriteString(il.out, "\r"+strings.Repeat(" ", len(il.line))+"\r")
	il.line = ""
}

func (il *InteractiveLogger) show(s string) {
	if !il.enabled {
		return
	}
	il.mu.Lock()
	il.draw(s)
	il.mu.Unlock()
}

func (il *InteractiveLogger) record(fn func(msg string, kv ...interface{}), msg string, kv []interface{}) {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.enabled && il.line != "" {
		il.erase()
	}
	fn(msg, kv...)
}

func (il *InteractiveLogger) LogInfo(msg string, kv ...interface{}) {
	il.record(il.log.Infow, msg, kv)
}

func (il *InteractiveLogger) LogWarn(msg string, kv ...interface{}) {
	il.record(il.log.Warnw, msg, kv)
}

func (il *InteractiveLogger) LogError(msg string, kv ...interface{}) {
	il.record(il.log.Errorw, msg, kv)
}

// StartSpinner animates msg until StopSpinner.
func (il *InteractiveLogger) StartSpinner(msg string) {
	if !il.enabled {
		return
	}
	stop := make(chan struct{})
	il.mu.Lock()
	il.stopSpin = stop
	il.mu.Unlock()

	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			case <-t.C:
				il.show(spinnerFrame(i, msg))
			}
		}
	}()
}

func (il *InteractiveLogger) StopSpinner() {
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.stopSpin != nil {
		close(il.stopSpin)
		il.stopSpin = nil
	}
	il.erase()
}

func (il *InteractiveLogger) SetTotal(total int64) { il.stats.SetTotal(total) }

// UpdateProgress records a sample; a full stats line is shown every ten
// seconds and the bar otherwise.
func (il *InteractiveLogger) UpdateProgress(sample types.Sample) {
	il.stats.Observe(sample)
	if !il.enabled {
		return
	}
	if il.stats.Due() {
		il.show(il.stats.Line("Progress"))
		return
	}
	if bar := il.stats.Bar(); bar != "" {
		il.show(bar)
	}
}

// Finish draws the completed bar and logs the run summary.
func (il *InteractiveLogger) Finish() {
	il.stats.finish()
	il.mu.Lock()
	defer il.mu.Unlock()
	if il.enabled && il.line != "" {
		il.draw(il.stats.Bar())
		io.WriteString(il.out, "\n")
		il.line = ""
	}
	il.log.Info(il.stats.Summary())
}
