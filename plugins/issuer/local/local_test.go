package local

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragpuzzle/internal/store"
	"fragpuzzle/pkg/contract"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Generate("a b c", rand.New(rand.NewSource(3))), nil)
	require.NoError(t, err)
	return st
}

// 已知 ID 精确返回；未知 ID 被替换为已知记录
func TestIssueLookup(t *testing.T) {
	st := newStore(t)
	c, err := NewWithStore(st, Options{})
	require.NoError(t, err)
	for id := int64(0); id < 3; id++ {
		o := c.Issue(context.Background(), id)
		require.Equal(t, contract.Success, o.Kind)
		assert.Equal(t, id, o.Fragment.ID)
	}
	o := c.Issue(context.Background(), 99)
	require.Equal(t, contract.Success, o.Kind)
	_, ok := st.Get(o.Fragment.ID)
	assert.True(t, ok)
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "local(3)", c.Target())
}

// 延迟在区间内，且可被取消
func TestIssueDelay(t *testing.T) {
	c, err := NewWithStore(newStore(t), Options{DelayMinMS: 20, DelayMaxMS: 30})
	require.NoError(t, err)
	start := time.Now()
	o := c.Issue(context.Background(), 0)
	assert.Equal(t, contract.Success, o.Kind)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	o = c.Issue(ctx, 0)
	require.Equal(t, contract.Failed, o.Kind)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)
}

// 单次超时短于模拟延迟时，调用以 DeadlineExceeded 失败
func TestIssueTimeout(t *testing.T) {
	c, err := NewWithStore(newStore(t), Options{DelayMinMS: 50, DelayMaxMS: 60, TimeoutMS: 5})
	require.NoError(t, err)
	o := c.Issue(context.Background(), 0)
	require.Equal(t, contract.Failed, o.Kind)
	assert.ErrorIs(t, o.Err, context.DeadlineExceeded)

	_, err = NewWithStore(newStore(t), Options{TimeoutMS: -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNewFromFile(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = New(json.RawMessage(`{"data_file":"/nonexistent/x.json"}`))
	assert.ErrorIs(t, err, contract.ErrDataNotFound)

	p := filepath.Join(t.TempDir(), "d.json")
	var buf bytes.Buffer
	require.NoError(t, store.Encode(&buf, store.Generate("x y", nil)))
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	raw, _ := json.Marshal(Options{DataFile: p})
	c, err := New(raw)
	require.NoError(t, err)
	assert.Equal(t, "local(2)", c.Target())

	_, err = NewWithStore(nil, Options{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = NewWithStore(newStore(t), Options{DelayMinMS: 5, DelayMaxMS: 1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
