package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

const (
	ProbeHTTP   = "http"
	ProbeSOCKS5 = "socks5"
	ProbePing   = "ping"

	connectRetries  = 3
	connectBackoff  = 500 * time.Millisecond
	alivePollPeriod = 200 * time.Millisecond
)

// Target 是一次探测的对象：记录本身 (含 LocalPort) 与探测 URL。
type Target struct {
	Record *model.Record
	URL    string
}

// Result 是一条记录的探测结果，Err 非空时 OK 一定为 false。
type Result struct {
	OK      bool
	Latency time.Duration
	Loss    float64
	Err     error
}

// ChunkProber 对一个分块给出以 server:port 为键的结果。
type ChunkProber interface {
	ProbeChunk(ctx context.Context, targets []Target) map[string]Result
}

type ProberConfig struct {
	Probe          string
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	BatchTimeout   time.Duration
	Warmup         time.Duration
	StartAttempts  int
	Concurrency    int
	RatePerSecond  float64
	Auth           RuntimeAuth
	// ConfigPath 为每个分块生成配置文件路径。
	ConfigPath func() string
}

// Prober 驱动转发程序完成一个分块的健康检查。
type Prober struct {
	cfg     ProberConfig
	rt      Runtime
	limiter *rate.Limiter
}

func NewProber(rt Runtime, cfg ProberConfig) *Prober {
	if cfg.Probe == "" {
		cfg.Probe = ProbeHTTP
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 3 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 60 * time.Second
	}
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 50
	}
	if cfg.ConfigPath == nil {
		dir := os.TempDir()
		if pr, ok := rt.(*ProcessRuntime); ok && pr.WorkDir != "" {
			dir = pr.WorkDir
		}
		cfg.ConfigPath = func() string { return configPathIn(dir) }
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Prober{
		cfg:     cfg,
		rt:      rt,
		limiter: rate.NewLimiter(limit, cfg.Concurrency),
	}
}

type probeOutcome struct {
	key    string
	result Result
}

// ProbeChunk 写配置、启动转发程序、并发探测、最后关闭转发程序。
// 转发程序始终无法存活时，整个分块都记为 ErrRuntimeUnavailable。
func (p *Prober) ProbeChunk(ctx context.Context, targets []Target) map[string]Result {
	l := logger.WithComponent("ProxyPool/Prober")
	results := make(map[string]Result, len(targets))
	if len(targets) == 0 {
		return results
	}

	records := make([]*model.Record, len(targets))
	urls := make(map[string]string, len(targets))
	for i, t := range targets {
		records[i] = t.Record
		urls[t.Record.Key()] = t.URL
	}

	cfg, bindings, skipped := BuildRuntimeConfig(records, p.cfg.Auth)
	for _, key := range skipped {
		results[key] = Result{Err: ErrUnsupportedByRuntime}
	}
	if len(bindings) == 0 {
		return results
	}

	path := p.cfg.ConfigPath()
	if err := WriteRuntimeConfig(cfg, path); err != nil {
		l.Error().Err(err).Str("path", path).Msg("Failed to write runtime config.")
		failAll(results, bindings, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err))
		return results
	}
	defer os.Remove(path)

	if err := p.startRuntime(ctx, path, bindings[0].LocalPort); err != nil {
		l.Warn().Err(err).Int("records", len(bindings)).Msg("Runtime never became reachable, chunk counted as failed.")
		failAll(results, bindings, err)
		return results
	}
	defer func() {
		if err := p.rt.Stop(); err != nil {
			l.Warn().Err(err).Msg("Failed to stop runtime.")
		}
	}()

	if p.cfg.Warmup > 0 {
		select {
		case <-time.After(p.cfg.Warmup):
		case <-ctx.Done():
		}
	}

	batchCtx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	// 探测协程只通过 outcomes 上报，results 只由当前协程写入。
	outcomes := make(chan probeOutcome, len(bindings))
	semaphore := make(chan struct{}, p.cfg.Concurrency)
	for _, b := range bindings {
		go func(b Binding) {
			select {
			case semaphore <- struct{}{}:
			case <-batchCtx.Done():
				return
			}
			defer func() { <-semaphore }()
			if err := p.limiter.Wait(batchCtx); err != nil {
				return
			}
			outcomes <- probeOutcome{key: b.Key, result: p.probeOne(batchCtx, b, urls[b.Key])}
		}(b)
	}

	pending := len(bindings)
collect:
	for pending > 0 {
		select {
		case o := <-outcomes:
			results[o.key] = o.result
			pending--
		case <-batchCtx.Done():
			break collect
		}
	}
	for _, b := range bindings {
		if _, done := results[b.Key]; !done {
			results[b.Key] = Result{Err: ErrProbeTimeout}
		}
	}

	passed := 0
	for _, r := range results {
		if r.OK {
			passed++
		}
	}
	l.Info().Int("records", len(targets)).Int("passed", passed).Int("timed_out", pending).Msg("Chunk probe finished.")
	return results
}

func failAll(results map[string]Result, bindings []Binding, err error) {
	for _, b := range bindings {
		results[b.Key] = Result{Err: err}
	}
}

// startRuntime 启动转发程序并等待首个 listener 可连接，最多重试 StartAttempts 次。
func (p *Prober) startRuntime(ctx context.Context, configPath string, probePort int) error {
	l := logger.WithComponent("ProxyPool/Prober")
	aliveWindow := p.cfg.Warmup
	if aliveWindow < time.Second {
		aliveWindow = time.Second
	}
	var lastErr error
	for attempt := 1; attempt <= p.cfg.StartAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		if err := p.rt.Start(ctx, configPath); err != nil {
			lastErr = err
		} else if waitListening(ctx, probePort, aliveWindow) {
			return nil
		} else {
			lastErr = ErrPortClosed
			_ = p.rt.Stop()
		}
		l.Debug().Int("attempt", attempt).Err(lastErr).Msg("Runtime start attempt failed.")
		if attempt < p.cfg.StartAttempts {
			time.Sleep(time.Duration(attempt) * connectBackoff)
		}
	}
	if errors.Is(lastErr, ErrRuntimeUnavailable) {
		return lastErr
	}
	return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, lastErr)
}

func waitListening(ctx context.Context, port int, window time.Duration) bool {
	deadline := time.Now().Add(window)
	addr := localAddr(port)
	for {
		conn, err := net.DialTimeout("tcp", addr, alivePollPeriod)
		if err == nil {
			conn.Close()
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		time.Sleep(alivePollPeriod)
	}
}

func localAddr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// probeOne 先确认本地 listener 可连接，再通过它发出一次应用层请求。
func (p *Prober) probeOne(ctx context.Context, b Binding, target string) Result {
	addr := localAddr(b.LocalPort)
	var dialErr error
	for i := 0; i < connectRetries; i++ {
		conn, err := net.DialTimeout("tcp", addr, p.cfg.ConnectTimeout)
		if err == nil {
			conn.Close()
			dialErr = nil
			break
		}
		dialErr = err
		select {
		case <-time.After(connectBackoff):
		case <-ctx.Done():
			return Result{Err: ErrProbeTimeout}
		}
	}
	if dialErr != nil {
		return Result{Err: fmt.Errorf("%w: %v", ErrPortClosed, dialErr)}
	}

	start := time.Now()
	var err error
	switch p.cfg.Probe {
	case ProbePing:
		var latency time.Duration
		latency, err = SocksPing(ctx, addr, p.socksAuth(), pingAddr(target), p.cfg.ProbeTimeout)
		if err == nil {
			return Result{OK: true, Latency: latency}
		}
	default:
		err = p.headThrough(ctx, b.LocalPort, target)
	}
	if err != nil {
		return Result{Err: err}
	}
	return Result{OK: true, Latency: time.Since(start)}
}

func (p *Prober) socksAuth() *proxy.Auth {
	if p.cfg.Auth.User == "" && p.cfg.Auth.Password == "" {
		return nil
	}
	return &proxy.Auth{User: p.cfg.Auth.User, Password: p.cfg.Auth.Password}
}

// headThrough 经本地 mixed listener 发出 HEAD 请求，只有 200 视为通过。
func (p *Prober) headThrough(ctx context.Context, port int, target string) error {
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout: p.cfg.ProbeTimeout / 2,
		DisableKeepAlives:   true,
	}
	switch p.cfg.Probe {
	case ProbeSOCKS5:
		dialer, err := proxy.SOCKS5("tcp", localAddr(port), p.socksAuth(), &net.Dialer{Timeout: p.cfg.ConnectTimeout})
		if err != nil {
			return fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.DialContext = dialer.(proxy.ContextDialer).DialContext
	default:
		proxyURL := &url.URL{Scheme: "http", Host: localAddr(port)}
		if p.cfg.Auth.User != "" || p.cfg.Auth.Password != "" {
			proxyURL.User = url.UserPassword(p.cfg.Auth.User, p.cfg.Auth.Password)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	client := &http.Client{
		Transport: transport,
		Timeout:   p.cfg.ProbeTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ErrProbeTimeout
		}
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-successful status code: %d", resp.StatusCode)
	}
	return nil
}

// pingAddr 把探测 URL 转换为 host:port，用于原始连接。
func pingAddr(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return "www.google.com:80"
	}
	if u.Port() != "" {
		return u.Host
	}
	if strings.EqualFold(u.Scheme, "https") {
		return net.JoinHostPort(u.Hostname(), "443")
	}
	return net.JoinHostPort(u.Hostname(), "80")
}
