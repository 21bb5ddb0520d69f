package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

// MergePolicy 决定重新入池时已存在的键如何处理。
type MergePolicy string

const (
	// MergeSkip 保留池中已有的记录 (包括其计数器)。
	MergeSkip MergePolicy = "skip"
	// MergeOverwrite 用新解析的字段覆盖，计数器清零。
	MergeOverwrite MergePolicy = "overwrite"
)

// ParseMergePolicy 把配置字符串转换为策略，未知值回落到 MergeSkip。
func ParseMergePolicy(s string) MergePolicy {
	if MergePolicy(s) == MergeOverwrite {
		return MergeOverwrite
	}
	return MergeSkip
}

// Pool 是绑定到一个逻辑表的代理池，键为 "server:port"。
type Pool struct {
	kv    KV
	table string
}

func NewPool(kv KV, table string) *Pool {
	return &Pool{kv: kv, table: table}
}

func (p *Pool) Table() string { return p.table }

// Get 返回键对应的记录，不存在时返回 ErrNotFound。
func (p *Pool) Get(ctx context.Context, key string) (*model.Record, error) {
	raw, err := p.kv.Get(ctx, p.table, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Table: p.table, Key: key, Op: "get", Err: err}
	}
	rec, err := model.Decode(raw)
	if err != nil {
		return nil, &StoreError{Table: p.table, Key: key, Op: "decode", Err: err}
	}
	return rec, nil
}

// Put 按键覆盖写入 (last-write-wins，不做合并)。
func (p *Pool) Put(ctx context.Context, key string, rec *model.Record) error {
	raw, err := rec.Encode()
	if err != nil {
		return &StoreError{Table: p.table, Key: key, Op: "encode", Err: err}
	}
	if err := p.kv.Put(ctx, p.table, key, raw); err != nil {
		return &StoreError{Table: p.table, Key: key, Op: "put", Err: err}
	}
	return nil
}

func (p *Pool) Delete(ctx context.Context, key string) error {
	if err := p.kv.Delete(ctx, p.table, key); err != nil {
		return &StoreError{Table: p.table, Key: key, Op: "delete", Err: err}
	}
	return nil
}

func (p *Pool) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := p.kv.Exists(ctx, p.table, key)
	if err != nil {
		return false, &StoreError{Table: p.table, Key: key, Op: "exists", Err: err}
	}
	return ok, nil
}

// GetAll 返回所有可解码的记录。无法解码的值会被记录并跳过。
func (p *Pool) GetAll(ctx context.Context) ([]*model.Record, error) {
	l := logger.WithComponent("ProxyPool/Pool")
	values, err := p.kv.Values(ctx, p.table)
	if err != nil {
		return nil, &StoreError{Table: p.table, Op: "values", Err: err}
	}
	out := make([]*model.Record, 0, len(values))
	for _, raw := range values {
		rec, err := model.Decode(raw)
		if err != nil {
			l.Warn().Err(err).Str("table", p.table).Msg("Skipping undecodable pool value.")
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetAllItems 返回 key -> 原始值。
func (p *Pool) GetAllItems(ctx context.Context) (map[string]string, error) {
	items, err := p.kv.Items(ctx, p.table)
	if err != nil {
		return nil, &StoreError{Table: p.table, Op: "items", Err: err}
	}
	return items, nil
}

// IngestStats 统计一次入池的结果。
type IngestStats struct {
	Added       int
	Overwritten int
	Skipped     int
	Failed      int
}

// Ingest 把新解析的记录写入池。单个键的存储失败只记录日志，不影响其余键。
func (p *Pool) Ingest(ctx context.Context, records []*model.Record, policy MergePolicy) IngestStats {
	l := logger.WithComponent("ProxyPool/Pool")
	var stats IngestStats
	for _, rec := range records {
		key := rec.Key()
		exists, err := p.Exists(ctx, key)
		if err != nil {
			stats.Failed++
			l.Error().Err(err).Str("key", key).Str("stage", "ingest").Msg("Store error, record abandoned.")
			continue
		}
		if exists && policy == MergeSkip {
			stats.Skipped++
			continue
		}

		fresh := *rec
		fresh.StripBookkeeping()
		if err := p.Put(ctx, key, &fresh); err != nil {
			stats.Failed++
			l.Error().Err(err).Str("key", key).Str("stage", "ingest").Msg("Store error, record abandoned.")
			continue
		}
		if exists {
			stats.Overwritten++
		} else {
			stats.Added++
		}
	}
	l.Info().Str("table", p.table).Int("added", stats.Added).Int("overwritten", stats.Overwritten).
		Int("skipped", stats.Skipped).Int("failed", stats.Failed).Msg("Ingest finished.")
	return stats
}

// Export 返回供下游配置消费的记录：按键排序、去掉簿记字段并重新解决名字冲突。
// healthyOnly 为 true 时跳过 fail_count > 0 的记录。
func (p *Pool) Export(ctx context.Context, healthyOnly bool) ([]*model.Record, error) {
	l := logger.WithComponent("ProxyPool/Pool")
	items, err := p.GetAllItems(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	records := make([]*model.Record, 0, len(keys))
	for _, k := range keys {
		rec, err := model.Decode(items[k])
		if err != nil {
			l.Warn().Err(err).Str("key", k).Msg("Skipping undecodable pool value.")
			continue
		}
		if healthyOnly && rec.FailCount > 0 {
			continue
		}
		records = append(records, rec)
	}
	return Sanitize(records), nil
}

// Sanitize 原地去掉簿记字段，并用 name-N 解决名字冲突。
func Sanitize(records []*model.Record) []*model.Record {
	names := model.NewNameSet()
	for _, rec := range records {
		rec.StripBookkeeping()
		rec.Name = names.Claim(rec.Name)
	}
	return records
}

// String 便于日志输出。
func (p *Pool) String() string {
	return fmt.Sprintf("Pool(%s)", p.table)
}
