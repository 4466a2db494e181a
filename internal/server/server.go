package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fragpuzzle/internal/diag"
	"fragpuzzle/internal/store"
	"fragpuzzle/pkg/contract"
)

// - 数据由显式持有的 store.Lazy 提供：首次请求时加载，失败不缓存。
// - /fragment：未知 ID 以随机已知记录替换；响应前随机延迟 [DelayMin, DelayMax]，客户端断开即放弃。
// - 数据文件错误只影响当次请求（404/500），进程继续服务。

const (
	welcomeMessage     = "Welcome to the Request Engine API!"
	defaultServiceName = "request_engine"
)

// Options 服务端配置。
type Options struct {
	Addr        string        // 监听地址，例如 localhost:8000
	DelayMin    time.Duration // 响应延迟下界
	DelayMax    time.Duration // 响应延迟上界（>= DelayMin）
	ServiceName string        // /health 中的 service 字段
	GracePeriod time.Duration // 优雅关闭等待时长
}

func (o *Options) defaults() {
	if o.Addr == "" {
		o.Addr = "localhost:8000"
	}
	if o.ServiceName == "" {
		o.ServiceName = defaultServiceName
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 5 * time.Second
	}
}

// Validate 校验延迟区间。
func (o Options) Validate() error {
	if o.DelayMin < 0 || o.DelayMax < o.DelayMin {
		return fmt.Errorf("%w: delay range [%s, %s]", contract.ErrInvalidInput, o.DelayMin, o.DelayMax)
	}
	return nil
}

// Server 片段端点。
type Server struct {
	opts   Options
	data   *store.Lazy
	logger *diag.Logger
	router *httprouter.Router

	mu  sync.Mutex // 保护 rnd
	rnd *rand.Rand

	// sleep 可在测试中替换
	sleep func(ctx context.Context, d time.Duration) error
}

// New 构造服务端；data 由调用方持有并注入。
func New(opts Options, data *store.Lazy, logger *diag.Logger) (*Server, error) {
	opts.defaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: nil data source", contract.ErrInvalidInput)
	}
	s := &Server{
		opts:   opts,
		data:   data,
		logger: logger,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *httprouter.Router {
	r := httprouter.New()
	r.GET("/", s.instrument("/", s.handleRoot))
	r.GET("/health", s.instrument("/health", s.handleHealth))
	r.GET("/fragment", s.instrument("/fragment", s.handleFragment))
	metrics := promhttp.HandlerFor(diag.Registry, promhttp.HandlerOpts{})
	r.GET("/metrics", s.instrument("/metrics", func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		metrics.ServeHTTP(w, req)
	}))
	r.NotFound = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		diag.IncHTTP("other", http.StatusNotFound)
		writeDetail(w, http.StatusNotFound, "Not Found")
	})
	return r
}

// Handler 返回完整路由（供 httptest 与自定义监听使用）。
func (s *Server) Handler() http.Handler { return s.router }

// statusRecorder 记录响应状态码。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument 为单个路由附加请求日志与计数。
func (s *Server) instrument(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		t0 := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r, ps)
		diag.IncHTTP(route, rec.status)
		diag.ObserveDuration("server", route, time.Since(t0).Milliseconds())
		s.logger.Debug("server", "request", map[string]string{
			"method": r.Method,
			"uri":    r.URL.RequestURI(),
			"status": strconv.Itoa(rec.status),
			"dur_ms": strconv.FormatInt(time.Since(t0).Milliseconds(), 10),
		})
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"message": welcomeMessage, "status": "success"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": s.opts.ServiceName})
}

func (s *Server) handleFragment(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "query parameter 'id' is required")
		return
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("query parameter 'id' must be an integer, got %q", raw))
		return
	}

	st, err := s.data.Get(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, contract.ErrDataNotFound) {
			status = http.StatusNotFound
		}
		if !errors.Is(err, context.Canceled) {
			diag.RecordError(s.logger, "server", err, map[string]string{"data_file": s.data.Path()})
		}
		writeDetail(w, status, err.Error())
		return
	}

	f, substituted := st.Lookup(id)
	if err := s.sleep(r.Context(), s.delay()); err != nil {
		// 客户端已断开，无需响应
		return
	}
	if substituted {
		s.logger.Debug("server", "substituted unknown id", map[string]string{
			"asked": raw,
			"id":    strconv.FormatInt(f.ID, 10),
		})
	}
	writeJSON(w, http.StatusOK, f)
}

// delay 在 [DelayMin, DelayMax] 内均匀取值。
func (s *Server) delay() time.Duration {
	span := int64(s.opts.DelayMax - s.opts.DelayMin)
	if span <= 0 {
		return s.opts.DelayMin
	}
	s.mu.Lock()
	d := s.opts.DelayMin + time.Duration(s.rnd.Int63n(span+1))
	s.mu.Unlock()
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// Listen 绑定监听地址（端口为 0 时由系统分配）。
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return ln, nil
}

// Serve 在 ln 上提供服务，直到 ctx 取消；取消后在 GracePeriod 内优雅关闭。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	timer := s.logger.StartWithKV("server", "serve", map[string]string{"addr": ln.Addr().String()})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), s.opts.GracePeriod)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			_ = hs.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	err := g.Wait()
	if err != nil {
		diag.RecordError(s.logger, "server", err, nil)
		return err
	}
	timer.Finish("serve", 0)
	return nil
}

// Run = Listen + Serve。
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
