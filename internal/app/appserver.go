package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"subpool/internal/service/web"
	"subpool/internal/shared/config"
	"subpool/internal/shared/logger"
	"subpool/internal/shared/types"
	manager "subpool/proxypool"
	"subpool/proxypool/scraper"
	"subpool/proxypool/storage"
	"subpool/proxypool/validator"
)

const (
	TaskServe  = "serve"
	TaskCheck  = "check"
	TaskMerge  = "merge"
	TaskExport = "export"
)

// AppServer 把存储、探测器、管理器和状态面板组装在一起。
type AppServer struct {
	cfg *types.Config

	kv      storage.KV
	pool    *storage.Pool
	targets *validator.TargetChooser
	manager *manager.Manager
	hub     *web.Hub
	web     *web.Server

	waitGroup sync.WaitGroup
	stopOnce  sync.Once
	stopChan  chan struct{}
}

// New 根据配置创建 AppServer。存储打不开或阈值非法时返回错误。
func New(ctx context.Context, cfg *types.Config) (*AppServer, error) {
	l := logger.WithComponent("App")

	kv, err := storage.Open(ctx, cfg.StoreConf.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	pool := storage.NewPool(kv, cfg.StoreConf.Table)

	targets := validator.NewTargetChooser(cfg.CheckerConf.DefaultTestURL, cfg.CheckerConf.DomesticTestURL)
	if cfg.CheckerConf.GeoIPDatabase != "" {
		if err := targets.WithGeoIP(cfg.CheckerConf.GeoIPDatabase); err != nil {
			// 没有 GeoIP 时仍按名称判断国内节点
			l.Warn().Err(err).Str("path", cfg.CheckerConf.GeoIPDatabase).Msg("GeoIP database unavailable, falling back to name matching.")
		}
	}

	m, err := manager.NewManager(pool, buildProber(cfg), targets, managerOptions(cfg))
	if err != nil {
		kv.Close()
		targets.Close()
		return nil, err
	}

	s := &AppServer{
		cfg:      cfg,
		kv:       kv,
		pool:     pool,
		targets:  targets,
		manager:  m,
		hub:      web.NewHub(),
		stopChan: make(chan struct{}),
	}
	s.web = web.NewServer(cfg.WebConf, m, s.hub)

	if err := s.loadScrapers(); err != nil {
		s.close()
		return nil, err
	}
	l.Info().Str("store", pool.String()).Str("mode", cfg.CheckerConf.Mode).Msg("AppServer initialized.")
	return s, nil
}

// loadScrapers 读取订阅源清单。文件不存在时写出一份空清单，池只做健康检查。
func (s *AppServer) loadScrapers() error {
	path := s.cfg.PoolConf.SourcesFile
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.SaveSources(path, &types.Sources{}); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Failed to create empty sources file.")
		} else {
			logger.Warn().Str("path", path).Msg("Sources file not found, created an empty one.")
		}
		return nil
	}
	sources, err := config.LoadSources(path)
	if err != nil {
		return fmt.Errorf("load sources '%s': %w", path, err)
	}
	scrapers := scraper.FromSources(sources)
	for _, sc := range scrapers {
		s.manager.AddScraper(sc)
	}
	logger.Info().Int("count", len(scrapers)).Str("path", path).Msg("Sources loaded.")
	return nil
}

func (s *AppServer) Manager() *manager.Manager {
	return s.manager
}

// ExportDir 是 export 任务写入运行时配置的目录。
func (s *AppServer) ExportDir() string {
	return filepath.Join(s.cfg.CommonConf.DataDir, "export")
}

// RunTask 执行一次性任务后返回。serve 会阻塞直到收到退出信号。
func (s *AppServer) RunTask(ctx context.Context, task string) error {
	defer s.close()

	switch task {
	case TaskCheck:
		report, err := s.manager.RunCheckCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("checked", report.Checked).Int("healthy", report.Healthy).Int("evicted", report.Evicted).Msg("Check task finished.")
	case TaskMerge:
		report, err := s.manager.RunMergeCycle(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int("unique", report.Unique).Int("added", report.Ingest.Added).Msg("Merge task finished.")
	case TaskExport:
		paths, err := s.manager.ExportRuntimeConfigs(ctx, s.ExportDir())
		if err != nil {
			return err
		}
		doc := filepath.Join(s.ExportDir(), "proxies.yaml")
		if _, err := s.manager.ExportDocument(ctx, doc); err != nil {
			return err
		}
		for _, p := range append(paths, doc) {
			fmt.Println(p)
		}
	case TaskServe, "":
		return s.serve()
	default:
		return fmt.Errorf("unknown task '%s'", task)
	}
	return nil
}

func (s *AppServer) serve() error {
	logger.Info().Msg("Starting subpool in 'serve' mode...")

	// 只有 serve 模式下 hub 在运行，一次性任务不推送事件
	s.manager.OnEvent(s.hub.BroadcastEvent)
	go s.hub.Run()
	if err := s.web.Start(&s.waitGroup); err != nil {
		s.hub.Close()
		return err
	}
	s.manager.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case got := <-sig:
		logger.Info().Str("signal", got.String()).Msg("Shutdown signal received.")
	case <-s.stopChan:
	}
	s.shutdown()
	s.waitGroup.Wait()
	return nil
}

// Stop 让正在 serve 的 AppServer 退出。
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *AppServer) shutdown() {
	s.manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.web.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Web server shutdown error.")
	}
	if n := s.hub.Pending(); n > 0 {
		logger.Debug().Int("pending", n).Msg("Dropping undelivered websocket events.")
	}
	s.hub.Close()
	logger.Info().Msg("AppServer stopped.")
}

func (s *AppServer) close() {
	if err := s.targets.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close GeoIP reader.")
	}
	if err := s.kv.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close store.")
	}
}
