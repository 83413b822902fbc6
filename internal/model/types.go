// 包 model 定义一次运行中流转的数据模型（单个社区的抓取结果与汇总）。
package model

import "time"

// Result 为单个社区一次抓取的结果，创建后不再修改。
// EventsCount 为 nil 表示无法从 payload 得出数量。
type Result struct {
	Slug        string        `json:"slug"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	EventsCount *int          `json:"eventsCount,omitempty"`
	Duration    time.Duration `json:"-"`
}

// Summary 为一轮运行的汇总。
type Summary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Succeeded  int
	Failed     int
}

// Summarize 统计成功/失败数量。
func Summarize(results []Result, started, finished time.Time) Summary {
	s := Summary{StartedAt: started, FinishedAt: finished}
	for _, r := range results {
		if r.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// Duration 返回总耗时。
func (s Summary) Duration() time.Duration { return s.FinishedAt.Sub(s.StartedAt) }

// AllSucceeded 报告是否全部成功。
func AllSucceeded(results []Result) bool {
	for _, r := range results {
		if !r.Success {
			return false
		}
	}
	return true
}
