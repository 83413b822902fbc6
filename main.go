// 命令行入口：
// - 解析 flags 与 settings.yaml（文件不存在时使用内置的九个社区）
// - 初始化日志、HTTP 客户端、可选的运行历史库
// - 并发抓取全部社区，更新元数据账本，按结果设置退出码
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os"
	"strings"

	"meetups-data-fetcher/internal/aggregate"
	"meetups-data-fetcher/internal/config"
	"meetups-data-fetcher/internal/export"
	"meetups-data-fetcher/internal/fetch"
	"meetups-data-fetcher/internal/ledger"
	"meetups-data-fetcher/internal/logx"
	"meetups-data-fetcher/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "settings.yaml", "path to settings.yaml")
		only       = flag.String("only", "", "comma separated group slugs to fetch (default: all)")
	)
	flag.Parse()

	os.Exit(run(*configPath, *only))
}

func run(configPath, only string) (code int) {
	defer func() {
		if p := recover(); p != nil {
			logx.Errorf("运行异常：%v", p)
			code = 1
		}
	}()

	// 1) 加载配置：settings.yaml 不存在时回退到内置配置
	cfg, err := config.Load(configPath)
	fallback := false
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err, fallback = config.Default(), nil, true
	}
	if err != nil {
		log.Printf("load config: %v", err)
		return 1
	}
	logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)
	if fallback {
		logx.Warnf("未找到 %s，使用内置配置（%d 个社区）", configPath, len(cfg.Groups))
	}

	groups, err := cfg.Select(splitList(only))
	if err != nil {
		logx.Errorf("选择社区失败：%v", err)
		return 1
	}

	// 2) 初始化 HTTP 客户端（代理 + 单次超时 + 固定间隔重试）
	cl, err := fetch.New(fetch.Options{
		ProxyHTTP:  cfg.Proxy.HTTP,
		ProxyHTTPS: cfg.Proxy.HTTPS,
		Timeout:    cfg.Fetch.Timeout,
		Retries:    cfg.RetryCount(),
		RetryDelay: cfg.RetryWait(),
		UserAgent:  cfg.Fetch.UserAgent,
	})
	if err != nil {
		logx.Errorf("初始化 HTTP 客户端失败：%v", err)
		return 1
	}

	opts := aggregate.Options{
		Concurrency:     cfg.Concurrency,
		HistoryKeep:     cfg.History.Keep,
		MetricsTextfile: cfg.MetricsTextfile,
	}
	// 3) 运行历史为可选项，打开失败不影响抓取
	if cfg.History.Enable {
		st, err := openHistory(cfg.History.DSN)
		if err != nil {
			logx.Warnf("打开运行历史库失败：%v", err)
		} else {
			defer st.Close()
			opts.History = st
		}
	}

	// 4) 运行
	r := aggregate.New(cl, ledger.NewUpdater(cfg.MetadataPath, nil), opts)
	results := r.RunAll(context.Background(), groups)
	code = aggregate.ExitCode(results)
	if code == 0 {
		logx.Infof("全部社区数据抓取成功")
	}
	return code
}

func openHistory(dsn string) (*store.SQLite, error) {
	if !strings.HasPrefix(dsn, "file:") {
		if err := export.EnsureDir(dsn); err != nil {
			return nil, err
		}
	}
	return store.OpenSQLite(dsn)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}
