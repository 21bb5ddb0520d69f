package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"subpool/internal/shared/logger"
	"subpool/proxypool/lifecycle"
	"subpool/proxypool/model"
	"subpool/proxypool/parser"
	"subpool/proxypool/scraper"
	"subpool/proxypool/storage"
	"subpool/proxypool/validator"
)

var ErrCycleRunning = errors.New("a cycle of this kind is already running")

const (
	ModeForward = "forward"
	ModeDirect  = "direct"

	EventChunkDone    = "chunk_done"
	EventProxyEvicted = "proxy_evicted"
	EventCycleDone    = "cycle_done"
	EventMergeDone    = "merge_done"
)

// Options 是 Manager 的运行参数，由 app 层从配置转换而来。
type Options struct {
	Mode            string
	ChunkSize       int
	Threshold       int
	StartPort       int
	MergePolicy     storage.MergePolicy
	FilterInfoNodes bool
	Auth            validator.RuntimeAuth
	CheckInterval   time.Duration
	MergeInterval   time.Duration
}

// Event 推送给状态面板。
type Event struct {
	Type    string    `json:"type"`
	RunID   string    `json:"run_id,omitempty"`
	Key     string    `json:"key,omitempty"`
	Name    string    `json:"name,omitempty"`
	Chunk   int       `json:"chunk,omitempty"`
	Chunks  int       `json:"chunks,omitempty"`
	Passed  int       `json:"passed,omitempty"`
	Evicted int       `json:"evicted,omitempty"`
	Time    time.Time `json:"time"`
}

// CheckReport 汇总一次健康检查周期。
type CheckReport struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Chunks   int           `json:"chunks"`
	Checked  int           `json:"checked"`
	Healthy  int           `json:"healthy"`
	Suspect  int           `json:"suspect"`
	Evicted  int           `json:"evicted"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Gone     int           `json:"gone"`
}

// MergeReport 汇总一次抓取合并周期。
type MergeReport struct {
	Started  time.Time           `json:"started"`
	Duration time.Duration       `json:"duration"`
	Sources  int                 `json:"sources"`
	Parsed   int                 `json:"parsed"`
	Unique   int                 `json:"unique"`
	Ingest   storage.IngestStats `json:"ingest"`
}

// Status 是 Manager 的只读快照。
type Status struct {
	PoolSize      int          `json:"pool_size"`
	CheckRunning  bool         `json:"check_running"`
	MergeRunning  bool         `json:"merge_running"`
	LastCheck     *CheckReport `json:"last_check,omitempty"`
	LastMerge     *MergeReport `json:"last_merge,omitempty"`
	EvictionLimit int          `json:"eviction_threshold"`
}

// Manager 是代理池模块的总控制器：按分块顺序驱动 端口分配 -> 探测 -> 生命周期更新，
// 并负责抓取合并与定时调度。
type Manager struct {
	opts     Options
	pool     *storage.Pool
	ports    *validator.PortAllocator
	prober   validator.ChunkProber
	targets  *validator.TargetChooser
	life     *lifecycle.Manager
	scrapers []scraper.Scraper

	checkMu sync.Mutex
	mergeMu sync.Mutex

	mu        sync.RWMutex
	lastCheck *CheckReport
	lastMerge *MergeReport
	onEvent   func(Event)

	// 调度器与生命周期管理
	checkTicker *time.Ticker
	mergeTicker *time.Ticker
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewManager 创建并初始化代理池管理器。阈值必须为正数。
func NewManager(pool *storage.Pool, prober validator.ChunkProber, targets *validator.TargetChooser, opts Options) (*Manager, error) {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 50
	}
	if opts.Mode == "" {
		opts.Mode = ModeForward
	}
	life, err := lifecycle.NewManager(pool, opts.Threshold)
	if err != nil {
		return nil, err
	}
	if targets == nil {
		targets = validator.NewTargetChooser("", "")
	}
	m := &Manager{
		opts:     opts,
		pool:     pool,
		ports:    validator.NewPortAllocator(opts.StartPort),
		prober:   prober,
		targets:  targets,
		life:     life,
		stopChan: make(chan struct{}),
	}
	life.OnEvict = func(rec *model.Record) {
		m.emit(Event{Type: EventProxyEvicted, Key: rec.Key(), Name: rec.Name})
	}
	return m, nil
}

// AddScraper 添加一个抓取器到管理器。
func (m *Manager) AddScraper(s scraper.Scraper) {
	m.scrapers = append(m.scrapers, s)
}

// OnEvent 设置事件回调，nil 表示不推送。
func (m *Manager) OnEvent(fn func(Event)) {
	m.mu.Lock()
	m.onEvent = fn
	m.mu.Unlock()
}

func (m *Manager) emit(e Event) {
	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	fn(e)
}

// Chunk 把记录按 size 切分，最后一块可能不满。
func Chunk(records []*model.Record, size int) [][]*model.Record {
	if len(records) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]*model.Record{records}
	}
	return lo.Chunk(records, size)
}

// snapshot 读取池中所有记录并按键排序，无法解码的值被跳过。
func (m *Manager) snapshot(ctx context.Context) ([]*model.Record, int, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	items, err := m.pool.GetAllItems(ctx)
	if err != nil {
		return nil, 0, err
	}
	keys := lo.Keys(items)
	sort.Strings(keys)

	records := make([]*model.Record, 0, len(keys))
	skipped := 0
	for _, key := range keys {
		rec, err := model.Decode(items[key])
		if err != nil {
			l.Warn().Err(err).Str("key", key).Msg("Skipping undecodable pool value.")
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// RunCheckCycle 对池的快照执行一次完整的健康检查。分块严格顺序执行，
// 第 i 块的生命周期更新在第 i+1 块开始前提交。
func (m *Manager) RunCheckCycle(ctx context.Context) (*CheckReport, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	if !m.checkMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer m.checkMu.Unlock()

	report := &CheckReport{RunID: uuid.NewString()[:8], Started: time.Now()}
	records, skipped, err := m.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot pool: %w", err)
	}
	report.Skipped = skipped

	chunks := Chunk(records, m.opts.ChunkSize)
	report.Chunks = len(chunks)
	l.Info().Str("run_id", report.RunID).Int("records", len(records)).Int("chunks", len(chunks)).Str("mode", m.opts.Mode).Msg("Starting check cycle...")

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			l.Warn().Err(err).Int("chunk", i+1).Msg("Check cycle cancelled.")
			break
		}
		if m.opts.Mode != ModeDirect {
			if err := m.ports.Assign(ctx, chunk); err != nil {
				l.Error().Err(err).Int("chunk", i+1).Msg("Port allocation failed, chunk left unchecked.")
				report.Skipped += len(chunk)
				continue
			}
		}

		targets := make([]validator.Target, len(chunk))
		for j, rec := range chunk {
			targets[j] = validator.Target{Record: rec, URL: m.targets.URLFor(rec)}
		}
		results := m.prober.ProbeChunk(ctx, targets)
		stats := m.life.Apply(ctx, chunk, results)

		report.Checked += len(chunk)
		report.Healthy += stats.Healthy
		report.Suspect += stats.Suspect
		report.Evicted += stats.Evicted
		report.Failed += stats.Failed
		report.Gone += stats.Gone
		l.Info().Str("run_id", report.RunID).Int("chunk", i+1).Int("healthy", stats.Healthy).Int("suspect", stats.Suspect).Int("evicted", stats.Evicted).Msg("Chunk committed.")
		m.emit(Event{Type: EventChunkDone, RunID: report.RunID, Chunk: i + 1, Chunks: len(chunks), Passed: stats.Healthy, Evicted: stats.Evicted})
	}

	report.Duration = time.Since(report.Started)
	m.mu.Lock()
	m.lastCheck = report
	m.mu.Unlock()
	m.emit(Event{Type: EventCycleDone, RunID: report.RunID, Chunks: report.Chunks, Passed: report.Healthy, Evicted: report.Evicted})
	l.Info().Str("run_id", report.RunID).Int("checked", report.Checked).Int("healthy", report.Healthy).Int("evicted", report.Evicted).Dur("duration", report.Duration).Msg("Check cycle finished.")
	return report, nil
}

// RunMergeCycle 并发抓取所有来源，在同一个解析批次中规范化，按键去重 (先到先得) 后入池。
func (m *Manager) RunMergeCycle(ctx context.Context) (*MergeReport, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	if !m.mergeMu.TryLock() {
		return nil, ErrCycleRunning
	}
	defer m.mergeMu.Unlock()

	report := &MergeReport{Started: time.Now(), Sources: len(m.scrapers)}
	l.Info().Int("sources", len(m.scrapers)).Msg("Starting new scrape and merge cycle...")

	payloads := make([]*scraper.Payload, len(m.scrapers))
	var wg sync.WaitGroup
	for i, s := range m.scrapers {
		wg.Add(1)
		go func(i int, sc scraper.Scraper) {
			defer wg.Done()
			p, err := sc.Scrape(ctx)
			if err != nil {
				l.Warn().Err(err).Str("source", sc.Name()).Msg("Scraper failed.")
				return
			}
			payloads[i] = p
		}(i, s)
	}
	wg.Wait()

	now := time.Now()
	n := parser.NewNormalizer(m.opts.FilterInfoNodes)
	for _, p := range payloads {
		if p == nil {
			continue
		}
		// 先单独解析，拿到节点数后再判断订阅是否值得保留
		src := parser.NewNormalizer(m.opts.FilterInfoNodes)
		if p.Kind == scraper.KindLines {
			src.AddLines(p.Lines)
		} else {
			src.AddContent(p.Content)
		}
		if err := p.Check(now, len(src.Records())); err != nil {
			l.Warn().Err(err).Int("proxies", len(src.Records())).Msg("Skipping source.")
			continue
		}
		added := n.Absorb(src)
		l.Debug().Str("source", p.Source).Int("added", added).Msg("Source normalized.")
	}

	records := n.Records()
	report.Parsed = len(records)
	unique := lo.UniqBy(records, func(r *model.Record) string { return r.Key() })
	report.Unique = len(unique)
	report.Ingest = m.pool.Ingest(ctx, unique, m.opts.MergePolicy)
	report.Duration = time.Since(report.Started)

	m.mu.Lock()
	m.lastMerge = report
	m.mu.Unlock()
	m.emit(Event{Type: EventMergeDone, Passed: report.Ingest.Added})
	l.Info().Int("parsed", report.Parsed).Int("unique", report.Unique).Int("added", report.Ingest.Added).Int("skipped", report.Ingest.Skipped).Int("skipped_links", n.Skipped()).Msg("Merge cycle finished.")
	return report, nil
}

// ExportRuntimeConfigs 把健康记录按分块写成可直接交给转发程序的配置文件，
// 端口从起始端口开始连续分配，文件名为 mihomo_<首端口>_<末端口>.yml。
func (m *Manager) ExportRuntimeConfigs(ctx context.Context, dir string) ([]string, error) {
	l := logger.WithComponent("ProxyPool/Manager")
	records, err := m.pool.Export(ctx, true)
	if err != nil {
		return nil, err
	}
	base := m.opts.StartPort
	if base <= 0 {
		base = 20001
	}

	// 转发程序不支持的记录不占端口
	supported := lo.Filter(records, func(rec *model.Record, _ int) bool {
		_, ok := validator.FixupForRuntime(rec)
		return ok
	})
	if n := len(records) - len(supported); n > 0 {
		l.Debug().Int("skipped", n).Msg("Records excluded from runtime config.")
	}

	var paths []string
	port := base
	for _, chunk := range Chunk(supported, m.opts.ChunkSize) {
		for _, rec := range chunk {
			rec.LocalPort = port
			port++
		}
		cfg, bindings, _ := validator.BuildRuntimeConfig(chunk, m.opts.Auth)
		if len(bindings) == 0 {
			continue
		}
		first, last := bindings[0].LocalPort, bindings[len(bindings)-1].LocalPort
		path := filepath.Join(dir, fmt.Sprintf("mihomo_%d_%d.yml", first, last))
		if err := validator.WriteRuntimeConfig(cfg, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	l.Info().Int("records", len(supported)).Int("files", len(paths)).Str("dir", dir).Msg("Runtime configs exported.")
	return paths, nil
}

// ExportDocument 把健康记录写成只含 proxies 列表的声明式文档，供其他客户端直接订阅。
func (m *Manager) ExportDocument(ctx context.Context, path string) (int, error) {
	records, err := m.pool.Export(ctx, true)
	if err != nil {
		return 0, err
	}
	data, err := parser.EncodeDocument(records)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return 0, err
	}
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Int("records", len(records)).Str("path", path).Msg("Proxy document exported.")
	return len(records), nil
}

// Start 启动管理器的后台调度循环。间隔为 0 的任务不调度。
func (m *Manager) Start() {
	l := logger.WithComponent("ProxyPool/Manager")
	l.Info().Dur("check_interval", m.opts.CheckInterval).Dur("merge_interval", m.opts.MergeInterval).Msg("Manager starting...")

	if m.opts.CheckInterval > 0 {
		m.checkTicker = time.NewTicker(m.opts.CheckInterval)
	}
	if m.opts.MergeInterval > 0 {
		m.mergeTicker = time.NewTicker(m.opts.MergeInterval)
	}
	m.wg.Add(1)
	go m.schedulerLoop()
}

func tickerChan(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// schedulerLoop 是核心的调度循环，监听 Ticker 和停止信号。
func (m *Manager) schedulerLoop() {
	defer m.wg.Done()
	l := logger.WithComponent("ProxyPool/Manager")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for {
		select {
		case <-tickerChan(m.checkTicker):
			l.Debug().Msg("Check ticker triggered.")
			m.goCycle(ctx, "check", func(ctx context.Context) error {
				_, err := m.RunCheckCycle(ctx)
				return err
			})
		case <-tickerChan(m.mergeTicker):
			l.Debug().Msg("Merge ticker triggered.")
			m.goCycle(ctx, "merge", func(ctx context.Context) error {
				_, err := m.RunMergeCycle(ctx)
				return err
			})
		case <-m.stopChan:
			l.Info().Msg("Stop signal received. Shutting down schedulers.")
			if m.checkTicker != nil {
				m.checkTicker.Stop()
			}
			if m.mergeTicker != nil {
				m.mergeTicker.Stop()
			}
			return
		}
	}
}

func (m *Manager) goCycle(ctx context.Context, name string, run func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := run(ctx); err != nil {
			l := logger.WithComponent("ProxyPool/Manager")
			if errors.Is(err, ErrCycleRunning) {
				l.Debug().Str("cycle", name).Msg("Previous cycle still running, tick skipped.")
				return
			}
			l.Error().Err(err).Str("cycle", name).Msg("Cycle failed.")
		}
	}()
}

// TriggerCheck 在后台立即开始一次健康检查。已有检查在运行时返回 ErrCycleRunning。
func (m *Manager) TriggerCheck() error {
	if m.CheckRunning() {
		return ErrCycleRunning
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.RunCheckCycle(context.Background()); err != nil && !errors.Is(err, ErrCycleRunning) {
			l := logger.WithComponent("ProxyPool/Manager")
			l.Error().Err(err).Msg("Triggered check failed.")
		}
	}()
	return nil
}

func (m *Manager) CheckRunning() bool {
	if m.checkMu.TryLock() {
		m.checkMu.Unlock()
		return false
	}
	return true
}

func (m *Manager) mergeRunning() bool {
	if m.mergeMu.TryLock() {
		m.mergeMu.Unlock()
		return false
	}
	return true
}

// Stop 优雅地停止调度循环，并等待正在运行的周期结束。
func (m *Manager) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	logger.Info().Msg("ProxyPool Manager gracefully stopped.")
}

// Status 返回当前快照。
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	items, err := m.pool.GetAllItems(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Status{
		PoolSize:      len(items),
		CheckRunning:  m.CheckRunning(),
		MergeRunning:  m.mergeRunning(),
		LastCheck:     m.lastCheck,
		LastMerge:     m.lastMerge,
		EvictionLimit: m.life.Threshold(),
	}, nil
}

// Proxies 返回池中所有记录，按键排序。
func (m *Manager) Proxies(ctx context.Context) ([]*model.Record, error) {
	records, _, err := m.snapshot(ctx)
	return records, err
}

// DeleteProxy 从池中删除一个键，不存在时返回 storage.ErrNotFound。
func (m *Manager) DeleteProxy(ctx context.Context, key string) error {
	ok, err := m.pool.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	return m.pool.Delete(ctx, key)
}
