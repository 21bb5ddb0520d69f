package validator

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"subpool/internal/shared/logger"
)

const (
	defaultPingAttempts = 3
	pingOuterWait       = 5 * time.Second
)

// TCPPing 并发发起 attempts 个 TCP 连接，返回成功连接的平均耗时与成功比例。
// 超过外层等待时间仍未返回的连接按失败计算。
func TCPPing(ctx context.Context, addr string, attempts int, timeout time.Duration) (time.Duration, float64) {
	if attempts <= 0 {
		attempts = defaultPingAttempts
	}
	ctx, cancel := context.WithTimeout(ctx, pingOuterWait)
	defer cancel()

	latencies := make(chan time.Duration, attempts)
	dialer := &net.Dialer{Timeout: timeout}
	for i := 0; i < attempts; i++ {
		go func() {
			start := time.Now()
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				latencies <- -1
				return
			}
			conn.Close()
			latencies <- time.Since(start)
		}()
	}

	var total time.Duration
	succeeded := 0
	for received := 0; received < attempts; received++ {
		select {
		case d := <-latencies:
			if d >= 0 {
				total += d
				succeeded++
			}
		case <-ctx.Done():
			received = attempts
		}
	}
	if succeeded == 0 {
		return 0, 0
	}
	return total / time.Duration(succeeded), float64(succeeded) / float64(attempts)
}

// SocksPing 经 SOCKS5 代理连接 target，发送最小的 HTTP 请求并读取首字节，返回往返耗时。
// 目标端口为 443 时先完成 TLS 握手。
func SocksPing(ctx context.Context, proxyAddr string, auth *proxy.Auth, target string, timeout time.Duration) (time.Duration, error) {
	dialer, err := proxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: timeout})
	if err != nil {
		return 0, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	conn, err := dialer.(proxy.ContextDialer).DialContext(ctx, "tcp", target)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	host, port, _ := net.SplitHostPort(target)
	if port == "443" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host, InsecureSkipVerify: true})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			return 0, fmt.Errorf("tls handshake: %w", err)
		}
		conn = tlsConn
	}
	if _, err := conn.Write([]byte("GET / HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n")); err != nil {
		return 0, err
	}
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// DirectProber 不经过转发程序，直接测量远端 server:port 的连通性。
// 丢包率不超过 LossThreshold 且平均延迟不超过 MaxLatency (为 0 时不限制) 视为通过。
type DirectProber struct {
	Attempts       int
	ConnectTimeout time.Duration
	LossThreshold  float64
	MaxLatency     time.Duration
	Concurrency    int
}

func NewDirectProber(connectTimeout time.Duration, lossThreshold float64, maxLatency time.Duration, concurrency int) *DirectProber {
	if concurrency <= 0 {
		concurrency = 50
	}
	return &DirectProber{
		Attempts:       defaultPingAttempts,
		ConnectTimeout: connectTimeout,
		LossThreshold:  lossThreshold,
		MaxLatency:     maxLatency,
		Concurrency:    concurrency,
	}
}

func (d *DirectProber) ProbeChunk(ctx context.Context, targets []Target) map[string]Result {
	l := logger.WithComponent("ProxyPool/DirectProber")
	results := make(map[string]Result, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, d.Concurrency)

	for _, t := range targets {
		wg.Add(1)
		semaphore <- struct{}{}
		go func(t Target) {
			defer wg.Done()
			defer func() { <-semaphore }()
			addr := net.JoinHostPort(t.Record.Server, strconv.Itoa(t.Record.Port))
			latency, ratio := TCPPing(ctx, addr, d.Attempts, d.ConnectTimeout)
			r := d.judge(latency, 1-ratio)

			mu.Lock()
			results[t.Record.Key()] = r
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	l.Debug().Int("records", len(targets)).Msg("Direct probe finished.")
	return results
}

func (d *DirectProber) judge(latency time.Duration, loss float64) Result {
	r := Result{Latency: latency, Loss: loss}
	switch {
	case loss > d.LossThreshold:
		r.Err = fmt.Errorf("loss %.2f above threshold %.2f", loss, d.LossThreshold)
	case d.MaxLatency > 0 && latency > d.MaxLatency:
		r.Err = fmt.Errorf("latency %s above limit %s", latency, d.MaxLatency)
	default:
		r.OK = true
	}
	return r
}
