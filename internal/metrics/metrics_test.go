package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/gustycube/balkansim/internal/health"
)

func TestHandler(t *testing.T) {
	StepsTotal.Inc()
	Balkanisation.WithLabelValues("absolute").Set(0.25)

	h := health.NewHandler(zap.NewNop().Sugar())
	h.SetReady(true)
	srv := httptest.NewServer(Handler(h))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{"balkansim_steps_total", `balkansim_balkanisation{measure="absolute"} 0.25`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("%q missing from /metrics", want)
		}
	}

	for _, path := range []string{"/health", "/ready", "/live"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", path, resp.StatusCode)
		}
	}
}
