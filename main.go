package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/spate-cache/spate/internal/config"
	"github.com/spate-cache/spate/internal/logging"
	"github.com/spate-cache/spate/internal/server"
	"github.com/spate-cache/spate/internal/server/routes"
	"github.com/spate-cache/spate/internal/spate"
	"github.com/spate-cache/spate/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showStats   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// statsTimeout 限制 --stats 等待各缓存完成初始容量统计的时间。
const statsTimeout = 30 * time.Second

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
// ctx 结束时服务模式会优雅退出并排空所有缓存队列。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["caches"] = config.CacheNames(cfg.Caches)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序为“配置 → 缓存注册表 → Fiber server”，关闭时先停 HTTP 再排空缓存队列。
	registry, err := spate.NewRegistry(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := registry.Close(); err != nil {
			logger.WithFields(logging.BaseFields("close", opts.configPath)).Errorf("关闭缓存失败: %v", err)
		}
	}()

	if opts.showStats {
		if err := printStats(ctx, registry); err != nil {
			fmt.Fprintf(stdErr, "读取缓存统计失败: %v\n", err)
			return 1
		}
		return 0
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["caches"] = config.CacheNames(cfg.Caches)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, registry, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// printVersion 输出注入的版本与提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("spate", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	configFlag := fs.StringP("config", "c", "", "配置文件路径（默认 ./config.toml，可被 SPATE_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showStats, "stats", false, "打印各缓存的磁盘用量后退出")
	fs.BoolVarP(&opts.showVersion, "version", "v", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.checkOnly && opts.showStats {
		return cliOptions{}, errors.New("--check-config 与 --stats 不能同时使用")
	}

	path := os.Getenv("SPATE_CONFIG")
	if *configFlag != "" {
		path = *configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path
	return opts, nil
}

// printStats 等待每个缓存完成启动时的容量统计与淘汰，再输出一行摘要。
func printStats(ctx context.Context, registry *spate.Registry) error {
	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()

	for _, name := range registry.Names() {
		c, _ := registry.Lookup(name)
		if err := c.Disk().Flush(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		entries, err := c.Disk().Entries(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		stats := c.Stats()
		fmt.Fprintf(stdOut, "%s\ttype=%s\tentries=%d\tsize=%s\tcapacity=%s\troot=%s\n",
			stats.Name,
			stats.Type,
			len(entries),
			humanize.IBytes(stats.SizeBytes),
			config.ByteSize(stats.CapacityBytes).String(),
			stats.Root,
		)
	}
	return nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, registry *spate.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, registry, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return server.Serve(ctx, app, port, logger)
}
