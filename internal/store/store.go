package store

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"fragpuzzle/pkg/contract"
)

// Rand 为 Store 所需的最小随机源（便于测试注入）。
type Rand interface {
	Intn(n int) int
}

// Store 只读片段集合：构造后不再修改，可被并发查询。
type Store struct {
	recs map[int64]contract.Fragment
	ids  []int64 // 升序，供随机替换

	mu  sync.Mutex // 保护 rnd
	rnd Rand
}

// New 从持久化布局构造 Store；rnd 为空时使用独立随机源。
func New(recs map[string]contract.Fragment, rnd Rand) (*Store, error) {
	if err := validate(recs); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Int63()))
	}
	s := &Store{recs: make(map[int64]contract.Fragment, len(recs)), ids: make([]int64, 0, len(recs)), rnd: rnd}
	for _, f := range recs {
		s.recs[f.ID] = f
		s.ids = append(s.ids, f.ID)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s, nil
}

// Len 返回记录数。
func (s *Store) Len() int { return len(s.ids) }

// Get 精确查询。
func (s *Store) Get(id int64) (contract.Fragment, bool) {
	f, ok := s.recs[id]
	return f, ok
}

// Lookup 查询 id；未知 id 以均匀随机选出的已知记录替换，substituted 报告是否发生替换。
func (s *Store) Lookup(id int64) (f contract.Fragment, substituted bool) {
	if f, ok := s.recs[id]; ok {
		return f, false
	}
	s.mu.Lock()
	i := s.rnd.Intn(len(s.ids))
	s.mu.Unlock()
	return s.recs[s.ids[i]], true
}

// Records 返回持久化布局的副本。
func (s *Store) Records() map[string]contract.Fragment {
	out := make(map[string]contract.Fragment, len(s.recs))
	for _, f := range s.recs {
		out[f.Key()] = f
	}
	return out
}

func (s *Store) String() string { return fmt.Sprintf("store(%d records)", len(s.ids)) }
