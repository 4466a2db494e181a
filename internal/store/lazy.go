package store

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy 首次使用时加载数据文件并缓存 Store。
// 并发的首次加载合并为一次；失败不缓存，下次请求重新尝试并报告各自的错误。
type Lazy struct {
	path string
	rnd  Rand

	group singleflight.Group
	mu    sync.RWMutex
	st    *Store
}

// NewLazy 构造延迟加载器；不触碰文件系统。
func NewLazy(path string, rnd Rand) *Lazy { return &Lazy{path: path, rnd: rnd} }

// Path 返回数据文件路径。
func (l *Lazy) Path() string { return l.path }

// Get 返回已加载的 Store，必要时加载。ctx 取消只影响本次等待，不中断共享的加载。
func (l *Lazy) Get(ctx context.Context) (*Store, error) {
	l.mu.RLock()
	st := l.st
	l.mu.RUnlock()
	if st != nil {
		return st, nil
	}
	ch := l.group.DoChan(l.path, func() (any, error) {
		l.mu.RLock()
		cached := l.st
		l.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		s, err := LoadFile(l.path, l.rnd)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.st = s
		l.mu.Unlock()
		return s, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Store), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Loaded 报告是否已成功加载。
func (l *Lazy) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st != nil
}
