// 包 aggregate 负责主流程编排：
// - 并发执行每个社区的“抓取→落盘”，单个社区失败不影响其它社区
// - 全部结束后统一更新元数据账本，避免并发写同一文件
// - 可选：记录运行历史（SQLite）与导出指标文件
package aggregate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meetups-data-fetcher/internal/config"
	"meetups-data-fetcher/internal/export"
	"meetups-data-fetcher/internal/ledger"
	"meetups-data-fetcher/internal/logx"
	"meetups-data-fetcher/internal/metrics"
	"meetups-data-fetcher/internal/model"
)

// Fetcher 抓取并解析 JSON；*fetch.Client 实现该接口。
type Fetcher interface {
	GetJSON(ctx context.Context, url string) (any, error)
}

// Recorder 保存运行历史；*store.SQLite 实现该接口。
type Recorder interface {
	RecordRun(ctx context.Context, sum model.Summary, results []model.Result) (string, error)
	Prune(ctx context.Context, keep int) error
}

// Options 为 Runner 的可选组件。
type Options struct {
	Concurrency     int // 0 表示不限制并发
	History         Recorder
	HistoryKeep     int
	MetricsTextfile string
}

// Runner 聚合执行器，持有抓取客户端、账本与可选组件。
type Runner struct {
	fetch  Fetcher
	ledger *ledger.Updater
	opts   Options
}

// New 创建 Runner；lu 为 nil 时不更新账本。
func New(cl Fetcher, lu *ledger.Updater, opts Options) *Runner {
	return &Runner{fetch: cl, ledger: lu, opts: opts}
}

// RunAll 并发处理全部分组，等待结束后汇总、更新账本并返回每个分组的结果（顺序与输入一致）。
func (r *Runner) RunAll(ctx context.Context, groups []config.Group) []model.Result {
	logx.Infof("开始抓取 %d 个社区的数据", len(groups))
	start := time.Now()

	results := make([]model.Result, len(groups))
	var sem chan struct{}
	if r.opts.Concurrency > 0 {
		sem = make(chan struct{}, r.opts.Concurrency)
	}
	var wg sync.WaitGroup
	for i, g := range groups {
		i, g := i, g
		wg.Add(1)
		if sem != nil {
			sem <- struct{}{}
		}
		go func() {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			results[i] = r.RunOne(ctx, g)
		}()
	}
	wg.Wait()

	sum := model.Summarize(results, start, time.Now())
	logx.Infof("汇总：成功=%d 失败=%d 总耗时=%s", sum.Succeeded, sum.Failed, sum.Duration().Truncate(time.Millisecond))
	if sum.Failed > 0 {
		logx.Warnf("失败的社区：")
		for _, res := range results {
			if !res.Success {
				logx.Warnf("- %s: %s", res.Slug, res.Error)
			}
		}
	}

	if r.ledger != nil {
		r.ledger.Update(results)
	}
	r.record(ctx, sum, results)
	return results
}

// RunOne 抓取单个社区并写入其输出文件。不会返回错误：所有失败都记录在结果中。
func (r *Runner) RunOne(ctx context.Context, g config.Group) (res model.Result) {
	lg := logx.For(g.Slug)
	start := time.Now()
	lg.Infof("开始抓取 %s", g.Endpoint)
	defer func() {
		if p := recover(); p != nil {
			res = model.Result{Slug: g.Slug, Error: fmt.Sprintf("panic: %v", p), Duration: time.Since(start)}
			lg.Errorf("抓取异常：%v", p)
		}
	}()

	payload, err := r.fetch.GetJSON(ctx, g.Endpoint)
	if err == nil {
		err = export.Persist(payload, g.Output)
	}
	elapsed := time.Since(start)
	if err != nil {
		lg.Errorf("抓取失败：%v（%s）", err, elapsed.Truncate(time.Millisecond))
		return model.Result{Slug: g.Slug, Error: errorText(err), Duration: elapsed}
	}

	res = model.Result{Slug: g.Slug, Success: true, Duration: elapsed}
	if n, ok := CountEvents(payload); ok {
		res.EventsCount = &n
		lg.Infof("已保存 %d 个活动到 %s（%s）", n, g.Output, elapsed.Truncate(time.Millisecond))
	} else {
		lg.Infof("已保存数据到 %s，活动数量未知（%s）", g.Output, elapsed.Truncate(time.Millisecond))
	}
	return res
}

// CountEvents 计算活动数量：数组取长度；对象取 events 数组长度；其它情况未知。
func CountEvents(payload any) (int, bool) {
	switch v := payload.(type) {
	case []any:
		return len(v), true
	case map[string]any:
		if evs, ok := v["events"].([]any); ok {
			return len(evs), true
		}
	}
	return 0, false
}

// ExitCode 全部成功返回 0，否则返回 1。
func ExitCode(results []model.Result) int {
	if model.AllSucceeded(results) {
		return 0
	}
	return 1
}

func errorText(err error) string {
	if s := err.Error(); s != "" {
		return s
	}
	return "unknown error"
}

// record 写运行历史与指标文件；失败只记日志。
func (r *Runner) record(ctx context.Context, sum model.Summary, results []model.Result) {
	if h := r.opts.History; h != nil {
		if id, err := h.RecordRun(ctx, sum, results); err != nil {
			logx.Warnf("写入运行历史失败：%v", err)
		} else {
			logx.Debugf("运行历史已记录：%s", id)
			if err := h.Prune(ctx, r.opts.HistoryKeep); err != nil {
				logx.Warnf("清理运行历史失败：%v", err)
			}
		}
	}
	if p := r.opts.MetricsTextfile; p != "" {
		if err := export.EnsureDir(p); err != nil {
			logx.Warnf("写入指标文件失败：%v", err)
		} else if err := metrics.WriteTextfile(p, results, sum); err != nil {
			logx.Warnf("写入指标文件失败：%v", err)
		}
	}
}
