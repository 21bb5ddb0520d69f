package validator

import (
	"context"
	"errors"
	"fmt"

	"subpool/internal/shared/logger"
	"subpool/proxypool/model"
)

const maxPort = 65535

var ErrPortsExhausted = errors.New("local port space exhausted")

// PortAllocator 从 base 开始为一个批次分配严格递增的本地端口，跳过绑定测试失败的端口。
// 每个批次都从 base 重新扫描：上一个批次的转发进程已被停止，端口已归还。
// 同一时刻只应有一个分配器在运行。
type PortAllocator struct {
	base   int
	isFree func(port int) bool
}

func NewPortAllocator(base int) *PortAllocator {
	if base <= 0 {
		base = 20001
	}
	return &PortAllocator{base: base, isFree: portIsFree}
}

// Allocate 返回 n 个在分配时刻可以绑定的端口。
func (a *PortAllocator) Allocate(ctx context.Context, n int) ([]int, error) {
	l := logger.WithComponent("ProxyPool/Ports")
	ports := make([]int, 0, n)
	skipped := 0
	for port := a.base; len(ports) < n; port++ {
		if port > maxPort {
			return ports, fmt.Errorf("%w: got %d of %d ports from base %d", ErrPortsExhausted, len(ports), n, a.base)
		}
		if err := ctx.Err(); err != nil {
			return ports, err
		}
		if !a.isFree(port) {
			skipped++
			continue
		}
		ports = append(ports, port)
	}
	if skipped > 0 {
		l.Debug().Int("skipped", skipped).Int("base", a.base).Msg("Skipped occupied local ports.")
	}
	return ports, nil
}

// Assign 为记录分配端口并写入 LocalPort，顺序与 records 一致。
func (a *PortAllocator) Assign(ctx context.Context, records []*model.Record) error {
	ports, err := a.Allocate(ctx, len(records))
	if err != nil {
		return err
	}
	for i, rec := range records {
		rec.LocalPort = ports[i]
	}
	return nil
}
