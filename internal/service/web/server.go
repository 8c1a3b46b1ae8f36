package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"crawlpool/internal/shared/logger"
	"crawlpool/internal/shared/types"
)

// basicAuthMiddleware 在 user 和 pass 都配置时强制 HTTP Basic Authentication。
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
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
		next.ServeHTTP(w, r)
	})
}

// NewMux 组装所有路由。metrics 为 nil 时不注册 /metrics。
func NewMux(cfg types.WebConf, hub *Hub, pool PoolView, metrics http.Handler) *http.ServeMux {
	handler := NewHandler(hub, pool)
	mux := http.NewServeMux()

	mux.Handle("/api/status", basicAuthMiddleware(http.HandlerFunc(handler.HandleStatus), cfg.User, cfg.Password))
	mux.Handle("/api/proxies", basicAuthMiddleware(http.HandlerFunc(handler.HandleProxies), cfg.User, cfg.Password))
	mux.Handle("/ws", basicAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}), cfg.User, cfg.Password))
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux
}

// StartServer 在 cfg.Port 上启动状态服务，ctx 结束时关闭。
// Port <= 0 时不启动，返回空地址。
func StartServer(
	ctx context.Context,
	wg *sync.WaitGroup,
	cfg types.WebConf,
	hub *Hub,
	pool PoolView,
	metrics http.Handler,
) (string, error) {
	l := logger.WithComponent("Web")
	if cfg.Port <= 0 {
		l.Info().Msg("Status server is disabled (port is 0 or not set).")
		return "", nil
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("web: listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           NewMux(cfg, hub, pool, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}

	l.Info().Msgf("SUCCESS: Status server is listening on http://%s", listener.Addr())

	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error().Err(err).Msg("Status server error")
		}
		l.Info().Msg("Status server stopped.")
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	return listener.Addr().String(), nil
}
