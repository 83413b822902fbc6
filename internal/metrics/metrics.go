// 包 metrics 以 Prometheus 文本格式导出每轮运行的分组指标（供 node_exporter textfile 采集）。
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meetups-data-fetcher/internal/model"
)

const namespace = "meetups"

// Collect 构建包含本轮指标的 registry。
func Collect(results []model.Result, sum model.Summary) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	success := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_success",
		Help:      "1 if the last fetch of the group succeeded, 0 otherwise",
	}, []string{"slug"})
	events := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_events",
		Help:      "Number of events in the last successful payload",
	}, []string{"slug"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Wall-clock duration of the last fetch-and-persist for the group",
	}, []string{"slug"})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})
	for _, c := range []prometheus.Collector{success, events, duration, lastRun} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}

	for _, r := range results {
		v := 0.0
		if r.Success {
			v = 1
		}
		success.WithLabelValues(r.Slug).Set(v)
		duration.WithLabelValues(r.Slug).Set(r.Duration.Seconds())
		// 数量未知时不导出，避免误报为 0
		if r.EventsCount != nil {
			events.WithLabelValues(r.Slug).Set(float64(*r.EventsCount))
		}
	}
	finished := sum.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	lastRun.Set(float64(finished.UnixMilli()) / 1000)
	return reg, nil
}

// WriteTextfile 原子写入指标文件。
func WriteTextfile(path string, results []model.Result, sum model.Summary) error {
	reg, err := Collect(results, sum)
	if err != nil {
		return err
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write textfile %s: %w", path, err)
	}
	return nil
}
