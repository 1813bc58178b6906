package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusCollectorExposesMetrics(t *testing.T) {
	m := NewPrometheusCollector()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.RecordStoreOp("set", true)
	m.RecordStoreOp("set", false)
	m.RecordReaped("expired", 2)
	m.RecordReaped("ignored", 0)
	m.RecordGame(40)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		"triviaroom_gateway_connections 1",
		`triviaroom_store_operations_total{op="set",result="success"} 1`,
		`triviaroom_store_operations_total{op="set",result="failure"} 1`,
		`triviaroom_reaper_actions_total{reason="expired"} 2`,
		"triviaroom_ranking_games_recorded_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(body, `reason="ignored"`) {
		t.Errorf("zero reap count should not create a series")
	}
}
