package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
	"subpool/proxypool/storage"
	"subpool/proxypool/validator"
)

var ErrInvalidThreshold = errors.New("eviction threshold must be positive")

// State 是记录在健康状态机中的位置。
type State int

const (
	Healthy State = iota
	Suspect
	Evicted
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Suspect:
		return "suspect"
	case Evicted:
		return "evicted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateOf 按 fail_count 与阈值 k 计算状态。
func StateOf(rec *model.Record, k int) State {
	switch {
	case rec.FailCount >= k:
		return Evicted
	case rec.FailCount > 0:
		return Suspect
	default:
		return Healthy
	}
}

// Transition 把一次探测结果作用在 rec 上并返回新状态。
// 成功总是清零失败计数，失败累加；到达 k 即为 Evicted。
func Transition(rec *model.Record, ok bool, now time.Time, k int) State {
	if ok {
		rec.FailCount = 0
		rec.SuccessCount++
	} else {
		rec.FailCount++
	}
	rec.LastCheckTime = now
	return StateOf(rec, k)
}

// Stats 汇总一次 Apply 的结果。
type Stats struct {
	Healthy int
	Suspect int
	Evicted int
	Failed  int
	Gone    int // 探测期间已被删除的记录
}

// Manager 把探测结果写回池中，失败次数达到阈值的记录被删除。
type Manager struct {
	pool *storage.Pool
	k    int
	now  func() time.Time

	// OnEvict 在记录被删除后调用。
	OnEvict func(rec *model.Record)
}

// NewManager 要求调用方显式给出阈值 k。
func NewManager(pool *storage.Pool, k int) (*Manager, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidThreshold, k)
	}
	return &Manager{pool: pool, k: k, now: time.Now}, nil
}

func (m *Manager) Threshold() int { return m.k }

// Apply 依次处理 records。缺少结果的记录按失败计算。
// 计数在写回前重新读取的记录上累加：探测期间被删除的键不会复活，被覆盖合并的字段也不会被回滚。
// 单个键的存储错误只会被记录，不会中断其余记录。
func (m *Manager) Apply(ctx context.Context, records []*model.Record, results map[string]validator.Result) Stats {
	l := logger.WithComponent("ProxyPool/Lifecycle")
	var stats Stats
	now := m.now()
	for _, rec := range records {
		key := rec.Key()
		res, found := results[key]
		if !found {
			res = validator.Result{Err: validator.ErrProbeTimeout}
		}

		cur, err := m.pool.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			stats.Gone++
			l.Debug().Str("key", key).Msg("Record removed during the cycle, result dropped.")
			continue
		}
		if err != nil {
			l.Error().Err(err).Str("key", key).Str("stage", "reload").Msg("Failed to reload record.")
			stats.Failed++
			continue
		}

		state := Transition(cur, res.OK, now, m.k)
		rec.FailCount, rec.SuccessCount, rec.LastCheckTime = cur.FailCount, cur.SuccessCount, cur.LastCheckTime
		rec = cur
		if state == Evicted {
			if err := m.pool.Delete(ctx, key); err != nil {
				l.Error().Err(err).Str("key", key).Str("stage", "evict").Msg("Failed to evict record.")
				stats.Failed++
				continue
			}
			stats.Evicted++
			l.Info().Str("key", key).Str("name", rec.Name).Int("fail_count", rec.FailCount).Msg("Record evicted.")
			if m.OnEvict != nil {
				m.OnEvict(rec)
			}
			continue
		}

		rec.LocalPort = 0
		if err := m.pool.Put(ctx, key, rec); err != nil {
			l.Error().Err(err).Str("key", key).Str("stage", "update").Msg("Failed to persist probe result.")
			stats.Failed++
			continue
		}
		if state == Healthy {
			stats.Healthy++
		} else {
			stats.Suspect++
			l.Debug().Str("key", key).Int("fail_count", rec.FailCount).Err(res.Err).Msg("Record failed probe.")
		}
	}
	return stats
}
