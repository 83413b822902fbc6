// 包 ledger 维护 metadata.json：按 slug 记录每个社区的 lastRun / lastUpdated / meta。
// 更新采用“整读-内存合并-整写”，当前运行未涉及的条目原样保留。
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"meetups-data-fetcher/internal/export"
	"meetups-data-fetcher/internal/logx"
	"meetups-data-fetcher/internal/model"
)

// TimeLayout 与 JavaScript Date.toISOString 一致（UTC，毫秒）。
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Entry 为单个社区的元数据。
type Entry struct {
	LastRun     *time.Time     `json:"lastRun"`
	LastUpdated *time.Time     `json:"lastUpdated"`
	Meta        map[string]any `json:"meta"`
}

// File 为账本的原始形态：slug -> 条目 JSON。
// 条目保持原始字节，未参与本轮合并的条目写回时内容不变。
type File map[string]json.RawMessage

// Entry 解码 slug 对应的条目。
func (f File) Entry(slug string) (Entry, bool, error) {
	raw, ok := f[slug]
	if !ok {
		return Entry{}, false, nil
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, true, fmt.Errorf("decode entry %s: %w", slug, err)
	}
	return e, true, nil
}

// Read 读取账本文件。文件不存在时返回空 File 与包装后的 os.ErrNotExist；
// 内容无法解析时返回空 File 与解析错误。
func Read(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read ledger %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return File{}, fmt.Errorf("parse ledger %s: %w", path, err)
	}
	if f == nil {
		// 文件内容为 null
		f = File{}
	}
	return f, nil
}

// Merge 将本轮结果并入 f（原地修改并返回）：
// - 所有结果的 lastRun 设为 now
// - 仅成功结果的 lastUpdated 设为 now，失败保留原值（新条目为 null）
// - 条目中的其它字段（含 meta）保持不变
func Merge(f File, results []model.Result, now time.Time) (File, error) {
	if f == nil {
		f = File{}
	}
	ts, err := json.Marshal(now.UTC().Format(TimeLayout))
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		fields := map[string]json.RawMessage{}
		if raw, ok := f[r.Slug]; ok {
			if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
				logx.Warnf("元数据条目无法解析，已重建：%s 错误=%v", r.Slug, err)
				fields = map[string]json.RawMessage{}
			}
		}
		if _, ok := fields["lastUpdated"]; !ok {
			fields["lastUpdated"] = json.RawMessage("null")
		}
		if m, ok := fields["meta"]; !ok || bytes.Equal(bytes.TrimSpace(m), []byte("null")) {
			fields["meta"] = json.RawMessage("{}")
		}
		fields["lastRun"] = ts
		if r.Success {
			fields["lastUpdated"] = ts
		}
		b, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode entry %s: %w", r.Slug, err)
		}
		f[r.Slug] = b
	}
	return f, nil
}

// Updater 在全部抓取结束后更新账本；自身失败只记日志，不影响整轮结果。
type Updater struct {
	path string
	now  func() time.Time
}

// NewUpdater 创建 Updater；now 为 nil 时使用 time.Now。
func NewUpdater(path string, now func() time.Time) *Updater {
	if now == nil {
		now = time.Now
	}
	return &Updater{path: path, now: now}
}

// Update 合并并写回账本（best-effort）。
func (u *Updater) Update(results []model.Result) {
	if err := u.apply(results); err != nil {
		logx.Warnf("更新元数据失败：%s 错误=%v", u.path, err)
		return
	}
	s := model.Summarize(results, time.Time{}, time.Time{})
	logx.Infof("元数据已更新：%s 成功=%d 失败=%d", u.path, s.Succeeded, s.Failed)
}

func (u *Updater) apply(results []model.Result) error {
	// 时间戳只取一次，本轮所有条目共用
	now := u.now()
	f, err := Read(u.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logx.Warnf("元数据文件不存在，将新建：%s", u.path)
		} else {
			logx.Warnf("元数据文件无法读取，按空账本处理：%v", err)
		}
		f = File{}
	}
	f, err = Merge(f, results, now)
	if err != nil {
		return err
	}
	if err := export.EnsureDir(u.path); err != nil {
		return err
	}
	return export.WriteJSON(u.path, f)
}
