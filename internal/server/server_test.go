package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"fragpuzzle/internal/diag"
	"fragpuzzle/internal/store"
	"fragpuzzle/pkg/contract"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func writeData(t *testing.T, text string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "lorem_ipsum.json")
	var buf bytes.Buffer
	require.NoError(t, store.Encode(&buf, store.Generate(text, rand.New(rand.NewSource(1)))))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

// newTestServer 构造零延迟服务端并返回 httptest 实例。
func newTestServer(t *testing.T, dataFile string) (*Server, *httptest.Server) {
	t.Helper()
	s, err := New(Options{ServiceName: "request_engine"}, store.NewLazy(dataFile, nil), diag.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		http.DefaultClient.CloseIdleConnections()
	})
	return s, ts
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	b, _ := io.ReadAll(resp.Body)
	if len(b) > 0 {
		require.NoError(t, json.Unmarshal(b, &body), string(b))
	}
	return resp.StatusCode, body
}

func TestRootAndHealth(t *testing.T) {
	_, ts := newTestServer(t, writeData(t, "a b"))
	code, body := getJSON(t, ts.URL+"/")
	assert.Equal(t, 200, code)
	assert.Equal(t, map[string]any{"message": "Welcome to the Request Engine API!", "status": "success"}, body)

	code, body = getJSON(t, ts.URL+"/health")
	assert.Equal(t, 200, code)
	assert.Equal(t, map[string]any{"status": "healthy", "service": "request_engine"}, body)

	code, body = getJSON(t, ts.URL+"/nope")
	assert.Equal(t, 404, code)
	assert.Equal(t, "Not Found", body["detail"])
}

// 已知 ID 精确返回；未知 ID 替换为已知记录
func TestFragmentLookup(t *testing.T) {
	p := writeData(t, "Lorem ipsum dolor")
	_, ts := newTestServer(t, p)
	st, err := store.LoadFile(p, nil)
	require.NoError(t, err)

	for id := int64(0); id < 3; id++ {
		code, body := getJSON(t, fmt.Sprintf("%s/fragment?id=%d", ts.URL, id))
		require.Equal(t, 200, code)
		want, _ := st.Get(id)
		assert.Equal(t, float64(want.ID), body["id"])
		assert.Equal(t, float64(want.Index), body["index"])
		assert.Equal(t, want.Text, body["text"])
	}
	for _, id := range []string{"999", "-5"} {
		code, body := getJSON(t, ts.URL+"/fragment?id="+id)
		require.Equal(t, 200, code)
		_, ok := st.Get(int64(body["id"].(float64)))
		assert.True(t, ok, "替换结果必须是已知记录")
	}
}

// id 缺失或非整数 → 422
func TestFragmentBadID(t *testing.T) {
	_, ts := newTestServer(t, writeData(t, "a"))
	for _, q := range []string{"", "?id=", "?id=abc", "?id=1.5"} {
		code, body := getJSON(t, ts.URL+"/fragment"+q)
		assert.Equal(t, http.StatusUnprocessableEntity, code, q)
		assert.NotEmpty(t, body["detail"], q)
	}
}

// 数据文件缺失 → 404；非法 → 500；进程继续服务
func TestFragmentDataErrors(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "lorem_ipsum.json")
	_, ts := newTestServer(t, missing)
	code, body := getJSON(t, ts.URL+"/fragment?id=1")
	assert.Equal(t, 404, code)
	assert.Contains(t, body["detail"], "not found")

	// 失败不缓存：写入非法内容后得到 500
	require.NoError(t, os.WriteFile(missing, []byte("{bad"), 0o644))
	code, _ = getJSON(t, ts.URL+"/fragment?id=1")
	assert.Equal(t, 500, code)

	// 修复后恢复
	var buf bytes.Buffer
	require.NoError(t, store.Encode(&buf, store.Generate("x", nil)))
	require.NoError(t, os.WriteFile(missing, buf.Bytes(), 0o644))
	code, body = getJSON(t, ts.URL+"/fragment?id=0")
	assert.Equal(t, 200, code)
	assert.Equal(t, "x", body["text"])

	code, _ = getJSON(t, ts.URL+"/health")
	assert.Equal(t, 200, code)
}

// 延迟在区间内
func TestDelayBounds(t *testing.T) {
	s, err := New(Options{DelayMin: 100 * time.Millisecond, DelayMax: 400 * time.Millisecond}, store.NewLazy("x", nil), nil)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		d := s.delay()
		if d < 100*time.Millisecond || d > 400*time.Millisecond {
			t.Fatalf("延迟越界: %s", d)
		}
	}
	s.opts.DelayMax = s.opts.DelayMin
	assert.Equal(t, 100*time.Millisecond, s.delay())
}

// 客户端断开时放弃响应
func TestFragmentClientGone(t *testing.T) {
	s, ts := newTestServer(t, writeData(t, "a b c"))
	var slept atomic.Int32
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/fragment?id=0", nil)
	_, err := http.DefaultClient.Do(req)
	require.Error(t, err)
	assert.Eventually(t, func() bool { return slept.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, writeData(t, "a"))
	before := testutil.ToFloat64(diag.HTTPRequestsCounter("/health", 200))
	getJSON(t, ts.URL+"/health")
	assert.Equal(t, before+1, testutil.ToFloat64(diag.HTTPRequestsCounter("/health", 200)))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, 200, resp.StatusCode)
	assert.True(t, strings.Contains(string(b), "fragpuzzle_http_requests_total"), "应导出请求计数")
}

func TestNewInvalid(t *testing.T) {
	_, err := New(Options{DelayMin: time.Second, DelayMax: time.Millisecond}, store.NewLazy("x", nil), nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(Options{}, nil, nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// Run：ctx 取消后优雅退出，在途请求得以完成
func TestServeGracefulShutdown(t *testing.T) {
	s, err := New(Options{Addr: "127.0.0.1:0", DelayMin: 80 * time.Millisecond, DelayMax: 80 * time.Millisecond, GracePeriod: 2 * time.Second},
		store.NewLazy(writeData(t, "a b"), nil), diag.Nop())
	require.NoError(t, err)
	ln, err := s.Listen()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	got := make(chan int, 1)
	go func() {
		resp, err := client.Get("http://" + ln.Addr().String() + "/fragment?id=0")
		if err != nil {
			got <- -1
			return
		}
		resp.Body.Close()
		got <- resp.StatusCode
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.Equal(t, 200, <-got, "在途请求应完成")
	require.NoError(t, <-done)
}
