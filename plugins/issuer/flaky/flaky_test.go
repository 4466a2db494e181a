package flaky

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fragpuzzle/pkg/contract"
)

type echo struct{}

func (echo) Issue(_ context.Context, c int64) contract.Outcome {
	return contract.Succeeded(contract.Fragment{ID: c, Index: c, Text: "w"})
}

// 前 K 次失败，之后委托
func TestFailFirst(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "flaky.log")
	c, err := New(echo{}, json.RawMessage(`{"fail_first":3,"log_path":"`+logPath+`"}`))
	require.NoError(t, err)
	for i := int64(1); i <= 3; i++ {
		o := c.Issue(context.Background(), i)
		require.Equal(t, contract.Failed, o.Kind)
		var ne net.Error
		assert.True(t, errors.As(o.Err, &ne), "注入错误应为网络类")
	}
	o := c.Issue(context.Background(), 4)
	assert.Equal(t, contract.Success, o.Kind)
	assert.Equal(t, int64(4), c.Calls())

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(string(b), "\n"))
	assert.NoError(t, c.Ping(context.Background()))
}

func TestRejectEvery(t *testing.T) {
	c, err := Wrap(echo{}, Options{RejectEvery: 2})
	require.NoError(t, err)
	kinds := []contract.OutcomeKind{}
	for i := int64(1); i <= 4; i++ {
		kinds = append(kinds, c.Issue(context.Background(), i).Kind)
	}
	assert.Equal(t, []contract.OutcomeKind{contract.Success, contract.Rejected, contract.Success, contract.Rejected}, kinds)
}

func TestWrapInvalid(t *testing.T) {
	_, err := Wrap(nil, Options{})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = Wrap(echo{}, Options{FailFirst: -1})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(echo{}, json.RawMessage(`{`))
	assert.Error(t, err)
}
