package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gustycube/balkansim/internal/types"
)

// Format represents the output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

var csvHeader = []string{
	"run_id", "step", "absolute", "relative", "components", "edges",
	"max_betweenness", "central_node", "packets", "threats",
	"blocked_transit", "blocked_destination", "received",
	"rewired", "restored", "no_candidate", "observed_at",
}

// Writer writes the balkanisation series of a run.
// JSON buffers samples and writes a single array on Flush; JSONL and CSV
// stream one record per sample.
type Writer struct {
	format    Format
	w         io.Writer
	csvWriter *csv.Writer
	mu        sync.Mutex
	hasHeader bool
	pending   []types.Sample
}

// NewWriter creates a new output writer
func NewWriter(format string, w io.Writer) (*Writer, error) {
	var f Format
	switch strings.ToLower(format) {
	case "json":
		f = FormatJSON
	case "jsonl", "ndjson":
		f = FormatJSONL
	case "csv":
		f = FormatCSV
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}

	writer := &Writer{
		format: f,
		w:      w,
	}
	if f == FormatCSV {
		writer.csvWriter = csv.NewWriter(w)
	}
	return writer, nil
}

// NewStdoutWriter creates a writer for stdout
func NewStdoutWriter(format string) (*Writer, error) {
	return NewWriter(format, os.Stdout)
}

// Write records one sample in the configured format
func (w *Writer) Write(s types.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.format {
	case FormatJSON:
		w.pending = append(w.pending, s)
		return nil

	case FormatJSONL:
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = w.w.Write(append(data, '\n'))
		return err

	case FormatCSV:
		return w.writeCSV(s)

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

func (w *Writer) writeCSV(s types.Sample) error {
	if !w.hasHeader {
		if err := w.csvWriter.Write(csvHeader); err != nil {
			return err
		}
		w.hasHeader = true
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	i := strconv.Itoa
	e := s.Events
	return w.csvWriter.Write([]string{
		s.RunID, i(s.Step), f(s.Absolute), f(s.Relative), i(s.Components), i(s.Edges),
		f(s.MaxBetweenness), s.CentralNode, i(e.Packets), i(e.Threats),
		i(e.BlockedTransit), i(e.BlockedDestination), i(e.Received),
		i(e.Rewired), i(e.Restored), i(e.NoCandidate), s.ObservedAt.Format(time.RFC3339Nano),
	})
}

// Flush flushes any buffered data
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.format == FormatJSON:
		if w.pending == nil {
			w.pending = []types.Sample{}
		}
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(w.pending); err != nil {
			return err
		}
		w.pending = nil
	case w.csvWriter != nil:
		w.csvWriter.Flush()
		return w.csvWriter.Error()
	}
	return nil
}
