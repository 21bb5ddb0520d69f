package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"subpool/internal/shared/logger"
	"subpool/internal/shared/types"
)

// loggingListener logs accepted connections at debug level.
type loggingListener struct {
	net.Listener
}

func (l loggingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err == nil {
		logger.Debug().Msgf(" [WebServer] Connection accepted from: %s ", conn.RemoteAddr())
	}
	return conn, err
}

// basicAuthMiddleware 检查 user 和 pass 是否已配置。
// 如果配置了，它将强制执行 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	// 如果用户名或密码未设置，则不启用认证，直接返回原始处理器
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		// 认证成功，继续处理请求
		next.ServeHTTP(w, r)
	})
}

// Server 是状态面板的 HTTP 服务。
type Server struct {
	cfg     types.WebConf
	handler *Handler
	hub     *Hub
	srv     *http.Server
}

func NewServer(cfg types.WebConf, controller PoolController, hub *Hub) *Server {
	return &Server{cfg: cfg, handler: NewHandler(controller), hub: hub}
}

// Routes 返回完整的路由表。/api/status 与 /ws 公开，其余接口受 Basic Auth 保护。
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	user, pass := s.cfg.User, s.cfg.Password

	mux.Handle("/api/proxies", basicAuthMiddleware(http.HandlerFunc(s.handler.HandleProxies), user, pass))
	mux.Handle("/api/check", basicAuthMiddleware(http.HandlerFunc(s.handler.HandleCheck), user, pass))

	// 公开的状态 API
	mux.HandleFunc("/api/status", s.handler.HandleStatus)

	// --- WebSocket Endpoint (公开，无需认证) ---
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(s.hub, w, r)
	})
	return mux
}

// Start 在后台开始监听。端口 <= 0 时不启动。
func (s *Server) Start(wg *sync.WaitGroup) error {
	l := logger.WithComponent("Web/Server")
	if s.cfg.Port <= 0 {
		l.Info().Msg("Web UI is disabled (port is 0 or not set).")
		return nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start web server on %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: s.Routes(), ReadHeaderTimeout: 10 * time.Second}
	l.Info().Msgf("SUCCESS: Web UI is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(loggingListener{Listener: listener}); err != nil && err != http.ErrServerClosed {
			l.Error().Err(err).Msg("Web server error.")
		}
		l.Info().Msg("Web server stopped.")
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
