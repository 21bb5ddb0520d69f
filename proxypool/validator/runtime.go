package validator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"subpool/internal/shared/logger"
)

var (
	ErrRuntimeUnavailable = errors.New("forwarding runtime unavailable")
	ErrPortClosed         = errors.New("local listener port closed")
	ErrProbeTimeout       = errors.New("probe timed out")
	// ErrUnsupportedByRuntime 表示记录在写入配置前就被排除 (例如不支持的 vless flow)。
	ErrUnsupportedByRuntime = errors.New("record not loadable by forwarding runtime")
)

// Runtime 抽象外部转发程序。Start 在进程启动后立即返回，
// 存活与否由调用方通过本地端口探测判断。
type Runtime interface {
	Start(ctx context.Context, configPath string) error
	Stop() error
}

const stopGracePeriod = 300 * time.Millisecond

// ProcessRuntime 以 `<binary> -f <config>` 启动 mihomo 兼容的转发程序。
type ProcessRuntime struct {
	Binary  string
	WorkDir string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

func NewProcessRuntime(binary, workDir string) *ProcessRuntime {
	return &ProcessRuntime{Binary: binary, WorkDir: workDir}
}

// ConfigPath 返回一个新的、唯一的配置文件路径。
func (p *ProcessRuntime) ConfigPath() string {
	return configPathIn(p.WorkDir)
}

func configPathIn(dir string) string {
	return filepath.Join(dir, "runtime-"+uuid.NewString()+".yml")
}

func (p *ProcessRuntime) Start(ctx context.Context, configPath string) error {
	l := logger.WithComponent("ProxyPool/Runtime")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("runtime already running with pid %d", p.cmd.Process.Pid)
	}

	args := []string{"-f", configPath}
	if p.WorkDir != "" {
		args = append(args, "-d", p.WorkDir)
	}
	cmd := exec.Command(p.Binary, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	p.cmd = cmd
	p.done = done
	l.Info().Int("pid", cmd.Process.Pid).Str("config", configPath).Msg("Forwarding runtime started.")
	return nil
}

// Stop 先发送 SIGTERM，宽限期内未退出则强制结束。
func (p *ProcessRuntime) Stop() error {
	l := logger.WithComponent("ProxyPool/Runtime")
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.cmd, p.done = nil, nil
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if runtime.GOOS == "windows" {
		_ = cmd.Process.Kill()
	} else {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			l.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Failed to kill forwarding runtime.")
			return err
		}
		<-done
	}
	l.Debug().Int("pid", cmd.Process.Pid).Msg("Forwarding runtime stopped.")
	return nil
}
