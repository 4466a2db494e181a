package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"fragpuzzle/internal/diag"
	"fragpuzzle/internal/rate"
	"fragpuzzle/pkg/contract"
)

// - 单点协调：一个协调循环独占全部状态（seen/collected/inFlight/stopping），合并严格串行。
// - 每次调用一个 goroutine，结果经容量=并发度的通道回传；协调者阻塞等待，不轮询。
// - 首个重复即停止补位，但已发出的调用全部排空并合并；排空期间出现的新唯一片段照常收下。
// - 父 ctx 取消：不再发起，在途调用随 ctx 结束，排空后返回部分结果与 ctx.Err()。

// 停止原因。
const (
	StopDuplicate = "duplicate"
	StopCancelled = "cancelled"
	StopGate      = "gate_error"
)

// Settings 运行期配置。
type Settings struct {
	// Concurrency: 同时在途调用的上限（>=1）。
	Concurrency int
	// StartID: 第一个候选 ID；此后每次发起递增 1。
	StartID int64
	// Gate: 可选的发起节奏闸门；有在途调用时只 Try，无在途时 Wait。
	Gate rate.Gate
	// Observer: 每次合并后同步回调（在协调循环内执行，应尽快返回）。
	Observer func(Snapshot)
}

// Snapshot 为协调状态的只读视图。
type Snapshot struct {
	Seen      int
	Collected int
	InFlight  int
	Issued    int
	Failed    int
	Stopping  bool
	// StopReason 在 Stopping 后给出原因；FirstDuplicate 仅在原因为 StopDuplicate 时有效。
	StopReason     string
	FirstDuplicate int64
}

// Stats 汇总一次收集的计数。
type Stats struct {
	Issued         int
	Succeeded      int
	Rejected       int
	Failed         int
	Duplicates     int
	FirstDuplicate int64
	MaxInFlight    int
	StopReason     string
}

// Result 为收集结果：按到达顺序排列的唯一片段与统计。
type Result struct {
	Fragments []contract.Fragment
	Stats     Stats
}

type state struct {
	seen      map[int64]struct{}
	collected []contract.Fragment
	inFlight  int
	stopping  bool
	stats     Stats
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		Seen:           len(s.seen),
		Collected:      len(s.collected),
		InFlight:       s.inFlight,
		Issued:         s.stats.Issued,
		Failed:         s.stats.Failed,
		Stopping:       s.stopping,
		StopReason:     s.stats.StopReason,
		FirstDuplicate: s.stats.FirstDuplicate,
	}
}

// Collect 以有界并发持续发起调用，直到首个重复出现（或 ctx 取消），排空在途后返回。
// 单次调用的失败不会上抛；仅参数非法、ctx 取消或闸门错误返回 error（后两者同时返回部分结果）。
func Collect(ctx context.Context, iss contract.Issuer, set Settings, logger *diag.Logger) (Result, error) {
	if iss == nil {
		return Result{}, fmt.Errorf("%w: nil issuer", contract.ErrInvalidInput)
	}
	if set.Concurrency < 1 {
		return Result{}, fmt.Errorf("%w: concurrency=%d", contract.ErrInvalidInput, set.Concurrency)
	}

	timer := logger.StartWithKV("collector", "collect", map[string]string{
		"concurrency": strconv.Itoa(set.Concurrency),
		"start_id":    strconv.FormatInt(set.StartID, 10),
	})

	st := &state{seen: make(map[int64]struct{})}
	results := make(chan contract.Outcome, set.Concurrency)
	var wg sync.WaitGroup
	next := set.StartID

	launch := func() {
		id := next
		next++
		st.inFlight++
		st.stats.Issued++
		if st.inFlight > st.stats.MaxInFlight {
			st.stats.MaxInFlight = st.inFlight
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- iss.Issue(ctx, id)
		}()
	}

	var stopErr error
	topUp := func() {
		for !st.stopping && st.inFlight < set.Concurrency {
			if err := ctx.Err(); err != nil {
				st.stopping = true
				st.stats.StopReason = StopCancelled
				stopErr = err
				return
			}
			if set.Gate != nil {
				if st.inFlight > 0 {
					if !set.Gate.Try() {
						return
					}
				} else if err := set.Gate.Wait(ctx); err != nil {
					st.stopping = true
					if ctx.Err() != nil {
						st.stats.StopReason = StopCancelled
						stopErr = ctx.Err()
					} else {
						st.stats.StopReason = StopGate
						stopErr = fmt.Errorf("gate wait: %w", err)
					}
					return
				}
			}
			launch()
		}
		diag.SetInFlight(st.inFlight)
	}

	for {
		topUp()
		if st.inFlight == 0 {
			break
		}
		o := <-results
		st.inFlight--
		merge(st, o, logger)
		diag.SetInFlight(st.inFlight)
		if set.Observer != nil {
			set.Observer(st.snapshot())
		}
	}
	wg.Wait()
	diag.SetInFlight(0)

	res := Result{Fragments: st.collected, Stats: st.stats}
	if stopErr != nil {
		code := diag.Classify(stopErr)
		if errors.Is(stopErr, context.Canceled) || errors.Is(stopErr, context.DeadlineExceeded) {
			logger.Warn("collector", "collect interrupted", map[string]string{
				"code":      string(code),
				"collected": strconv.Itoa(len(st.collected)),
			})
		} else {
			diag.RecordError(logger, "collector", stopErr, nil)
		}
		return res, stopErr
	}
	timer.Finish("collect", int64(len(st.collected)))
	diag.IncOp("collector", "finish", "success")
	return res, nil
}

// merge 把一次调用结果并入状态；仅在协调循环内调用。
func merge(st *state, o contract.Outcome, logger *diag.Logger) {
	switch o.Kind {
	case contract.Success:
		id := o.Fragment.ID
		if _, dup := st.seen[id]; dup {
			st.stats.Duplicates++
			diag.IncOutcome("duplicate")
			if !st.stopping {
				st.stopping = true
				st.stats.FirstDuplicate = id
				st.stats.StopReason = StopDuplicate
				logger.Info("collector", "first duplicate, draining", map[string]string{
					"id":        strconv.FormatInt(id, 10),
					"collected": strconv.Itoa(len(st.collected)),
					"in_flight": strconv.Itoa(st.inFlight),
				})
			}
			return
		}
		st.seen[id] = struct{}{}
		st.collected = append(st.collected, o.Fragment)
		st.stats.Succeeded++
		diag.IncOutcome("success")
	case contract.Rejected:
		st.stats.Rejected++
		diag.IncOutcome("rejected")
		kv := map[string]string{"reason": o.Reason, "code": string(diag.Classify(o.Cause()))}
		var ue contract.UpstreamError
		if errors.As(o.Err, &ue) {
			kv["upstream"] = ue.UpstreamMessage()
		}
		logger.Debug("collector", "call rejected", kv)
	default:
		st.stats.Failed++
		diag.IncOutcome("failed")
		msg := "unknown"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		logger.Debug("collector", "call failed", map[string]string{
			"code":  string(diag.Classify(o.Cause())),
			"error": msg,
		})
	}
}
