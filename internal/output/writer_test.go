package output

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gustycube/balkansim/internal/types"
)

func series() []types.Sample {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return []types.Sample{
		{RunID: "r", Step: 0, Absolute: 0.5, Components: 1, Edges: 9, ObservedAt: at},
		{RunID: "r", Step: 1, Absolute: 0.6, Relative: 0.25, Components: 1, Edges: 9, CentralNode: "U3", MaxBetweenness: 0.75,
			Events: types.Events{Packets: 1, Threats: 1, Received: 1, Rewired: 1}, ObservedAt: at},
	}
}

func writeAll(t *testing.T, format string) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(format, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range series() {
		if err := w.Write(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestWriter_JSON(t *testing.T) {
	var got []types.Sample
	if err := json.Unmarshal([]byte(writeAll(t, "json")), &got); err != nil {
		t.Fatalf("output is not a JSON array: %v", err)
	}
	if len(got) != 2 || got[1].CentralNode != "U3" || got[1].Events.Rewired != 1 {
		t.Errorf("unexpected series %+v", got)
	}
}

func TestWriter_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter("json", &buf)
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("expected an empty array, got %q", buf.String())
	}
}

func TestWriter_JSONL(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(writeAll(t, "ndjson")), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var s types.Sample
	if err := json.Unmarshal([]byte(lines[1]), &s); err != nil {
		t.Fatal(err)
	}
	if s.Step != 1 || s.Relative != 0.25 {
		t.Errorf("unexpected sample %+v", s)
	}
}

func TestWriter_CSV(t *testing.T) {
	records, err := csv.NewReader(strings.NewReader(writeAll(t, "CSV"))).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(records))
	}
	if records[0][0] != "run_id" || len(records[0]) != len(records[1]) {
		t.Errorf("unexpected header %v", records[0])
	}
	row := records[2]
	if row[1] != "1" || row[2] != "0.6" || row[3] != "0.25" || row[7] != "U3" || row[13] != "1" {
		t.Errorf("unexpected row %v", row)
	}
	if row[16] != "2024-01-02T03:04:05Z" {
		t.Errorf("unexpected timestamp %s", row[16])
	}
}

func TestNewWriter_Unsupported(t *testing.T) {
	if _, err := NewWriter("xml", &bytes.Buffer{}); err == nil {
		t.Error("expected an error for an unsupported format")
	}
}
