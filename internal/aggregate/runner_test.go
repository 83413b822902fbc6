package aggregate_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meetups-data-fetcher/internal/aggregate"
	"meetups-data-fetcher/internal/config"
	"meetups-data-fetcher/internal/fetch"
	"meetups-data-fetcher/internal/ledger"
	"meetups-data-fetcher/internal/model"
)

func readJSON(t *testing.T, path string) any {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return v
}

func TestRunAll_EndToEnd(t *testing.T) {
	var failCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/g1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	})
	mux.HandleFunc("/g2", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&failCalls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/g3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"events":[{"id":"a"},{"id":"b"}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir: dir,
		Groups: []config.Group{
			{Slug: "g1", Endpoint: srv.URL + "/g1"},
			{Slug: "g2", Endpoint: srv.URL + "/g2"},
			{Slug: "g3", Endpoint: srv.URL + "/g3"},
		},
		MetricsTextfile: filepath.Join(dir, "metrics", "meetups.prom"),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cl, err := fetch.New(fetch.Options{Timeout: 2 * time.Second, Retries: 2, RetryDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	run := aggregate.New(cl, ledger.NewUpdater(cfg.MetadataPath, nil), aggregate.Options{MetricsTextfile: cfg.MetricsTextfile})
	results := run.RunAll(context.Background(), cfg.Groups)

	if len(results) != 3 {
		t.Fatalf("results=%d want=3", len(results))
	}
	for i, g := range cfg.Groups {
		if results[i].Slug != g.Slug {
			t.Fatalf("result %d slug=%q want=%q", i, results[i].Slug, g.Slug)
		}
	}
	if !results[0].Success || results[0].EventsCount == nil || *results[0].EventsCount != 1 {
		t.Fatalf("g1: %+v", results[0])
	}
	if results[1].Success || results[1].Error == "" {
		t.Fatalf("g2: %+v", results[1])
	}
	if n := atomic.LoadInt32(&failCalls); n != 3 {
		t.Fatalf("g2 attempts=%d want=3", n)
	}
	if !results[2].Success || results[2].EventsCount == nil || *results[2].EventsCount != 2 {
		t.Fatalf("g3: %+v", results[2])
	}
	if code := aggregate.ExitCode(results); code != 1 {
		t.Fatalf("exit code=%d want=1", code)
	}

	// 输出文件与 mock 响应一致；失败分组不落盘
	want1 := []any{map[string]any{"id": "1"}}
	if got := readJSON(t, cfg.Groups[0].Output); !reflect.DeepEqual(got, want1) {
		t.Fatalf("g1 file=%#v", got)
	}
	if _, err := os.Stat(cfg.Groups[1].Output); !os.IsNotExist(err) {
		t.Fatalf("g2 output should not exist: %v", err)
	}
	want3 := map[string]any{"events": []any{map[string]any{"id": "a"}, map[string]any{"id": "b"}}}
	if got := readJSON(t, cfg.Groups[2].Output); !reflect.DeepEqual(got, want3) {
		t.Fatalf("g3 file=%#v", got)
	}

	f, err := ledger.Read(cfg.MetadataPath)
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	for slug, wantUpdated := range map[string]bool{"g1": true, "g2": false, "g3": true} {
		e, ok, err := f.Entry(slug)
		if err != nil || !ok {
			t.Fatalf("ledger %s: ok=%v err=%v", slug, ok, err)
		}
		if e.LastRun == nil {
			t.Fatalf("ledger %s: lastRun unset", slug)
		}
		if (e.LastUpdated != nil) != wantUpdated {
			t.Fatalf("ledger %s: lastUpdated=%v want set=%v", slug, e.LastUpdated, wantUpdated)
		}
	}
	if _, err := os.Stat(cfg.MetricsTextfile); err != nil {
		t.Fatalf("metrics textfile: %v", err)
	}
}

func TestRunAll_FailedGroupKeepsPriorFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "g", "events.json")
	_ = os.MkdirAll(filepath.Dir(out), 0o755)
	_ = os.WriteFile(out, []byte(`["old"]`), 0o644)

	cl, _ := fetch.New(fetch.Options{Timeout: time.Second})
	res := aggregate.New(cl, nil, aggregate.Options{}).RunOne(context.Background(), config.Group{Slug: "g", Endpoint: srv.URL, Output: out})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure: %+v", res)
	}
	b, _ := os.ReadFile(out)
	if string(b) != `["old"]` {
		t.Fatalf("prior file modified: %q", b)
	}
}

type flakyFetcher struct {
	mu    sync.Mutex
	fails map[string]int
	calls map[string]int
}

func (f *flakyFetcher) GetJSON(_ context.Context, url string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if f.calls[url] <= f.fails[url] {
		return nil, errors.New("boom")
	}
	if url == "panic" {
		panic("unexpected payload")
	}
	return map[string]any{"title": "no events key"}, nil
}

func TestRunOne_UnknownCountAndPanic(t *testing.T) {
	dir := t.TempDir()
	ff := &flakyFetcher{fails: map[string]int{}, calls: map[string]int{}}
	run := aggregate.New(ff, nil, aggregate.Options{})

	res := run.RunOne(context.Background(), config.Group{Slug: "obj", Endpoint: "obj", Output: filepath.Join(dir, "obj.json")})
	if !res.Success || res.EventsCount != nil {
		t.Fatalf("expected success with unset count: %+v", res)
	}
	res = run.RunOne(context.Background(), config.Group{Slug: "p", Endpoint: "panic", Output: filepath.Join(dir, "p.json")})
	if res.Success || res.Slug != "p" || res.Error == "" {
		t.Fatalf("panic not captured: %+v", res)
	}
}

type fakeRecorder struct {
	runs  int
	keep  int
	sum   model.Summary
	count int
}

func (f *fakeRecorder) RecordRun(_ context.Context, sum model.Summary, results []model.Result) (string, error) {
	f.runs++
	f.sum = sum
	f.count = len(results)
	return "run-1", nil
}

func (f *fakeRecorder) Prune(_ context.Context, keep int) error {
	f.keep = keep
	return nil
}

func TestRunAll_BoundedConcurrencyAndHistory(t *testing.T) {
	var inflight, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	var groups []config.Group
	for _, s := range []string{"a", "b", "c", "d", "e", "f"} {
		groups = append(groups, config.Group{Slug: s, Endpoint: srv.URL + "/" + s, Output: filepath.Join(dir, s+".json")})
	}
	cl, _ := fetch.New(fetch.Options{Timeout: 2 * time.Second})
	rec := &fakeRecorder{}
	run := aggregate.New(cl, nil, aggregate.Options{Concurrency: 2, History: rec, HistoryKeep: 10})
	results := run.RunAll(context.Background(), groups)

	if aggregate.ExitCode(results) != 0 {
		t.Fatalf("expected all success: %+v", results)
	}
	if p := atomic.LoadInt32(&peak); p > 2 {
		t.Fatalf("peak in-flight=%d exceeds limit 2", p)
	}
	if rec.runs != 1 || rec.count != 6 || rec.sum.Succeeded != 6 || rec.keep != 10 {
		t.Fatalf("history not recorded: %+v", rec)
	}
}

func TestCountEvents(t *testing.T) {
	cases := []struct {
		in   any
		n    int
		want bool
	}{
		{[]any{1, 2, 3}, 3, true},
		{map[string]any{"events": []any{}}, 0, true},
		{map[string]any{"events": "x"}, 0, false},
		{map[string]any{}, 0, false},
		{"text", 0, false},
		{nil, 0, false},
	}
	for _, c := range cases {
		n, ok := aggregate.CountEvents(c.in)
		if n != c.n || ok != c.want {
			t.Fatalf("CountEvents(%#v)=%d,%v want %d,%v", c.in, n, ok, c.n, c.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	if aggregate.ExitCode(nil) != 0 {
		t.Fatalf("empty run should exit 0")
	}
	if aggregate.ExitCode([]model.Result{{Success: true}, {Success: false}}) != 1 {
		t.Fatalf("any failure should exit 1")
	}
}
