package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"subpool/internal/app"
	"subpool/internal/shared/config"
	"subpool/internal/shared/logger"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	task := flag.String("task", "", "One of serve | check | merge | export (default: [common] mode)")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "subpool.ini")

	// 1. 加载 .ini 配置，文件中缺省的项保持默认值
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if *task == "" {
		*task = cfg.CommonConf.Mode
	}

	// 2. 组装并执行任务
	appServer, err := app.New(context.Background(), cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize subpool")
	}
	if err := appServer.RunTask(context.Background(), *task); err != nil {
		logger.Fatal().Err(err).Msgf("Task '%s' failed", *task)
	}
}
