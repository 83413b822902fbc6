// 包 config 负责加载与校验应用配置（settings.yaml），
// 对外提供结构体 Config、内置参考配置 Default() 及默认值/合法性校验。
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 默认抓取参数（超时 30s，重试 3 次，间隔 1s）。
const (
	DefaultTimeout    = 30 * time.Second
	DefaultRetries    = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultUserAgent  = "mauritius-meetups-data-fetcher/1.0.0"
	DefaultDataDir    = "data"
	DefaultAPIBase    = "https://meetup.mu/api/v1/get/c/"
)

type Config struct {
	Groups          []Group `yaml:"GROUPS"`
	DataDir         string  `yaml:"DATA_DIR"`
	MetadataPath    string  `yaml:"METADATA_PATH"`
	Fetch           Fetch   `yaml:"FETCH"`
	Proxy           Proxy   `yaml:"PROXY"`
	Concurrency     int     `yaml:"CONCURRENCY"` // 0 表示不限制
	History         History `yaml:"HISTORY"`
	MetricsTextfile string  `yaml:"METRICS_TEXTFILE"`
	LogLevel        string  `yaml:"LOG_LEVEL"`
	LogFormat       string  `yaml:"LOG_FORMAT"` // text|json|pretty
	LogLocale       string  `yaml:"LOG_LOCALE"` // zh-CN|en
	LogColor        string  `yaml:"LOG_COLOR"`  // auto|always|never
}

// Group 为一个社区数据源：slug 唯一，output 为空时落到 DATA_DIR/<slug>/events.json。
type Group struct {
	Slug     string `yaml:"slug"`
	Endpoint string `yaml:"endpoint"`
	Output   string `yaml:"output"`
}

type Fetch struct {
	Timeout    time.Duration  `yaml:"timeout"`
	Retries    *int           `yaml:"retries"` // nil 时取默认值，允许显式配置 0
	RetryDelay *time.Duration `yaml:"retry_delay"` // nil 时取默认值，允许显式配置 0s
	UserAgent  string         `yaml:"user_agent"`
}

type Proxy struct {
	HTTP  string `yaml:"http"`
	HTTPS string `yaml:"https"`
}

type History struct {
	Enable bool   `yaml:"enable"`
	DSN    string `yaml:"dsn"`  // 默认 <DATA_DIR>/history.db
	Keep   int    `yaml:"keep"` // 保留最近多少轮，0 表示不清理
}

// referenceSlugs 为内置的九个 meetup.mu 社区。
var referenceSlugs = []string{
	"frontendmu",
	"mscc",
	"pydata",
	"cloudnativemu",
	"nugm",
	"laravelmoris",
	"gophersmu",
	"mobilehorizon",
	"pymug",
}

// Default 返回内置参考配置（未提供 settings.yaml 时使用）。
func Default() *Config {
	c := &Config{Groups: referenceGroups()}
	// 参考配置必然合法，这里只为填充默认值
	_ = c.Validate()
	return c
}

func referenceGroups() []Group {
	out := make([]Group, 0, len(referenceSlugs))
	for _, slug := range referenceSlugs {
		out = append(out, Group{Slug: slug, Endpoint: DefaultAPIBase + slug})
	}
	return out
}

func Load(path string) (*Config, error) {
	// Load 从文件读取 YAML 并反序列化为 Config，同时进行基础校验与默认值填充。
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config %s: %w", path, err)
	}
	if len(c.Groups) == 0 {
		c.Groups = referenceGroups()
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

func (c *Config) Validate() error {
	// Validate 负责合法性检查与默认值设置，避免在业务层分散判空逻辑。
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.MetadataPath == "" {
		c.MetadataPath = filepath.Join(c.DataDir, "metadata.json")
	}
	seen := make(map[string]bool, len(c.Groups))
	for i := range c.Groups {
		g := &c.Groups[i]
		g.Slug = strings.TrimSpace(g.Slug)
		if g.Slug == "" {
			return fmt.Errorf("GROUPS[%d]: slug required", i)
		}
		if seen[g.Slug] {
			return fmt.Errorf("GROUPS[%d]: duplicate slug %q", i, g.Slug)
		}
		seen[g.Slug] = true
		u, err := url.Parse(g.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("GROUPS[%d] %s: invalid endpoint %q", i, g.Slug, g.Endpoint)
		}
		if g.Output == "" {
			g.Output = filepath.Join(c.DataDir, g.Slug, "events.json")
		}
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = DefaultTimeout
	}
	if c.Fetch.Retries == nil {
		n := DefaultRetries
		c.Fetch.Retries = &n
	}
	if *c.Fetch.Retries < 0 {
		return errors.New("FETCH.retries must be >= 0")
	}
	if c.Fetch.RetryDelay == nil {
		d := DefaultRetryDelay
		c.Fetch.RetryDelay = &d
	}
	if *c.Fetch.RetryDelay < 0 {
		return errors.New("FETCH.retry_delay must be >= 0")
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = DefaultUserAgent
	}
	if c.Concurrency < 0 {
		return errors.New("CONCURRENCY must be >= 0")
	}
	for name, raw := range map[string]string{"PROXY.http": c.Proxy.HTTP, "PROXY.https": c.Proxy.HTTPS} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" {
			return fmt.Errorf("%s: invalid proxy url %q", name, raw)
		}
	}
	if c.History.Enable && c.History.DSN == "" {
		c.History.DSN = filepath.Join(c.DataDir, "history.db")
	}
	if c.LogFormat == "" {
		c.LogFormat = "pretty"
	}
	if c.LogLocale == "" {
		c.LogLocale = "zh-CN"
	}
	if c.LogColor == "" {
		c.LogColor = "auto"
	}
	return nil
}

// RetryCount 返回生效的重试次数。
func (c *Config) RetryCount() int {
	if c.Fetch.Retries == nil {
		return DefaultRetries
	}
	return *c.Fetch.Retries
}

// RetryWait 返回生效的重试间隔。
func (c *Config) RetryWait() time.Duration {
	if c.Fetch.RetryDelay == nil {
		return DefaultRetryDelay
	}
	return *c.Fetch.RetryDelay
}

// Select 按 slug 过滤分组（重复 slug 只取一次）；only 为空时返回全部，存在未知 slug 时报错。
func (c *Config) Select(only []string) ([]Group, error) {
	if len(only) == 0 {
		return c.Groups, nil
	}
	idx := make(map[string]Group, len(c.Groups))
	for _, g := range c.Groups {
		idx[g.Slug] = g
	}
	out := make([]Group, 0, len(only))
	picked := make(map[string]bool, len(only))
	for _, s := range only {
		s = strings.TrimSpace(s)
		if s == "" || picked[s] {
			continue
		}
		picked[s] = true
		g, ok := idx[s]
		if !ok {
			return nil, fmt.Errorf("unknown group %q", s)
		}
		out = append(out, g)
	}
	return out, nil
}
