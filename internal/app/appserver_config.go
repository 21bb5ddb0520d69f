package app

import (
	"time"

	"subpool/internal/shared/logger"
	"subpool/internal/shared/types"
	manager "subpool/proxypool"
	"subpool/proxypool/storage"
	"subpool/proxypool/validator"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

// managerOptions 把 ini 配置转换为 Manager 的运行参数。
func managerOptions(cfg *types.Config) manager.Options {
	return manager.Options{
		Mode:            cfg.CheckerConf.Mode,
		ChunkSize:       cfg.PoolConf.ChunkSize,
		Threshold:       cfg.PoolConf.EvictionThreshold,
		StartPort:       cfg.CheckerConf.StartPort,
		MergePolicy:     storage.ParseMergePolicy(cfg.PoolConf.MergePolicy),
		FilterInfoNodes: cfg.PoolConf.FilterInfoNodes,
		Auth:            runtimeAuth(cfg),
		CheckInterval:   minutes(cfg.SchedulerConf.CheckIntervalMinutes),
		MergeInterval:   minutes(cfg.SchedulerConf.MergeIntervalMinutes),
	}
}

func runtimeAuth(cfg *types.Config) validator.RuntimeAuth {
	return validator.RuntimeAuth{User: cfg.RuntimeConf.AuthUser, Password: cfg.RuntimeConf.AuthPass}
}

// buildProber 按 checker.mode 选择探测方式：forward 经由转发程序，direct 直接测量远端。
func buildProber(cfg *types.Config) validator.ChunkProber {
	l := logger.WithComponent("App")
	c := cfg.CheckerConf
	if c.Mode == manager.ModeDirect {
		l.Info().Float64("loss_threshold", c.LossFailRatio).Int("max_latency_ms", c.MaxLatencyMillis).Msg("Using direct probe mode.")
		return validator.NewDirectProber(seconds(c.ConnectTimeout), c.LossFailRatio, time.Duration(c.MaxLatencyMillis)*time.Millisecond, c.Concurrency)
	}

	rt := validator.NewProcessRuntime(cfg.RuntimeConf.Binary, cfg.RuntimeConf.WorkDir)
	l.Info().Str("binary", rt.Binary).Str("probe", c.Probe).Msg("Using forward probe mode.")
	return validator.NewProber(rt, validator.ProberConfig{
		Probe:          c.Probe,
		ConnectTimeout: seconds(c.ConnectTimeout),
		ProbeTimeout:   seconds(c.ProbeTimeout),
		BatchTimeout:   seconds(c.BatchTimeout),
		Warmup:         seconds(c.Warmup),
		StartAttempts:  c.StartAttempts,
		Concurrency:    c.Concurrency,
		RatePerSecond:  c.RatePerSecond,
		Auth:           runtimeAuth(cfg),
		ConfigPath:     rt.ConfigPath,
	})
}
