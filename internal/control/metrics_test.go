package control

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/quasar-relay/quasar/internal/frame"
	"github.com/quasar-relay/quasar/internal/hub"
	"github.com/quasar-relay/quasar/internal/oscingest"
	"github.com/quasar-relay/quasar/internal/slots"
	"github.com/quasar-relay/quasar/internal/voice"
)

func TestRegisterMetricsExposesCounters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	state := voice.New("")
	sched := slots.New(ctx, noopChannel{}, frame.New(nil))
	h := hub.New(state, sched, hub.NewStats())
	h.Stats().FramesRelayed.Add(3)
	osc := oscingest.New(state, nil)
	osc.Messages.Add(5)

	mux := http.NewServeMux()
	RegisterMetrics(mux, h, sched, osc, func() bool { return true })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "quasar_frames_relayed_total 3") {
		t.Errorf("expected frames_relayed_total 3 in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "quasar_osc_messages_total 5") {
		t.Errorf("expected osc_messages_total 5 in output, got:\n%s", body)
	}
	if !strings.Contains(string(body), "quasar_pulsar_up 1") {
		t.Errorf("expected pulsar_up 1 in output")
	}
}
