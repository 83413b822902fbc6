// 触发工具：通过 GitHub repository dispatch 远程触发数据抓取工作流。
// 用法：trigger [trigger|direct|help]，默认执行 trigger。
// 环境变量：GITHUB_TOKEN（必填）、GITHUB_REPO、GITHUB_API_URL，支持从 .env 读取。
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"meetups-data-fetcher/internal/logx"
	"meetups-data-fetcher/internal/trigger"
)

type options struct {
	Token  string `long:"token" env:"GITHUB_TOKEN" description:"GitHub personal access token (required)"`
	Repo   string `long:"repo" env:"GITHUB_REPO" default:"MrSunshyne/mauritius-meetups-data" description:"GitHub repository (owner/name)"`
	APIURL string `long:"api-url" env:"GITHUB_API_URL" default:"https://api.github.com" description:"GitHub API base URL"`
}

type triggerCommand struct {
	opts *options
}

func (c *triggerCommand) Execute(_ []string) error {
	d, err := trigger.New(trigger.Options{Token: c.opts.Token, Repo: c.opts.Repo, APIURL: c.opts.APIURL})
	if errors.Is(err, trigger.ErrMissingToken) {
		logx.Errorf("缺少 GITHUB_TOKEN 环境变量")
		logx.Errorf(`设置方式：export GITHUB_TOKEN="your_personal_access_token"`)
		return err
	}
	if err != nil {
		logx.Errorf("参数错误：%v", err)
		return err
	}
	logx.Infof("正在触发 GitHub Action，仓库=%s", d.Repo())
	id, err := d.Dispatch(context.Background())
	if err != nil {
		logx.Errorf("触发失败：%v", err)
		return err
	}
	logx.Infof("触发成功 request_id=%s，可在仓库的 Actions 页查看运行情况", id)
	return nil
}

type helpCommand struct {
	parser *flags.Parser
	w      io.Writer
}

func (c *helpCommand) Execute(_ []string) error {
	c.parser.WriteHelp(c.w)
	fmt.Fprintf(c.w, "\nExternal services can call POST %s/repos/<repo>/dispatches with\n", trigger.DefaultAPIURL)
	fmt.Fprintf(c.w, "Authorization: Bearer <token> and body {\"event_type\": %q}\n", trigger.DefaultEventType)
	return nil
}

func main() {
	// .env 不存在时忽略，环境变量可能已手动设置
	_ = godotenv.Load()
	logx.Init("info", "pretty", "zh-CN", "auto")
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, stdout io.Writer) int {
	var opts options
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.SubcommandsOptional = true

	tc := &triggerCommand{opts: &opts}
	cmd, err := parser.AddCommand("trigger", "Trigger the GitHub Action (default)",
		"Send a repository dispatch event that starts the data fetch workflow.", tc)
	if err != nil {
		logx.Errorf("init commands: %v", err)
		return 1
	}
	cmd.Aliases = []string{"direct"}
	if _, err := parser.AddCommand("help", "Show this help message", "", &helpCommand{parser: parser, w: stdout}); err != nil {
		logx.Errorf("init commands: %v", err)
		return 1
	}

	rest, err := parser.ParseArgs(normalizeCommand(args))
	if err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) {
			if fe.Type == flags.ErrHelp {
				fmt.Fprintln(stdout, fe.Message)
				return 0
			}
			logx.Errorf("%v", fe)
			parser.WriteHelp(stdout)
		}
		return 1
	}
	// 子命令可选时，未知命令会作为剩余参数返回
	if parser.Active == nil && len(rest) > 0 {
		logx.Errorf("未知命令：%s", rest[0])
		parser.WriteHelp(stdout)
		return 1
	}
	// 未指定子命令时默认执行 trigger
	if parser.Active == nil {
		if err := tc.Execute(nil); err != nil {
			return 1
		}
	}
	return 0
}

// normalizeCommand 将命令名转为小写，TRIGGER、Help 等写法同样可用。
func normalizeCommand(args []string) []string {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return args
	}
	out := append([]string(nil), args...)
	out[0] = strings.ToLower(out[0])
	return out
}
