package metrics_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meetups-data-fetcher/internal/metrics"
	"meetups-data-fetcher/internal/model"
)

func TestWriteTextfile(t *testing.T) {
	two := 2
	results := []model.Result{
		{Slug: "mscc", Success: true, EventsCount: &two, Duration: 250 * time.Millisecond},
		{Slug: "pymug", Success: false, Error: "boom", Duration: time.Second},
		{Slug: "nugm", Success: true},
	}
	fin := time.Unix(1_700_000_000, 0)
	sum := model.Summarize(results, fin.Add(-time.Second), fin)

	path := filepath.Join(t.TempDir(), "meetups.prom")
	if err := metrics.WriteTextfile(path, results, sum); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(b)
	for _, want := range []string{
		`meetups_fetch_success{slug="mscc"} 1`,
		`meetups_fetch_success{slug="pymug"} 0`,
		`meetups_fetch_events{slug="mscc"} 2`,
		`meetups_fetch_duration_seconds{slug="pymug"} 1`,
		`meetups_last_run_timestamp_seconds 1.7e+09`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("missing %q in:\n%s", want, s)
		}
	}
	if strings.Contains(s, `meetups_fetch_events{slug="nugm"}`) {
		t.Fatalf("unknown count must not be exported:\n%s", s)
	}
}
