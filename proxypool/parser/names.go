package parser

import (
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// NameTable 在一次归一化批次内保证显示名唯一：HK, HK_1, HK_2 ...
// 空名会被替换为 8 位随机名。
type NameTable struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewNameTable() *NameTable {
	return &NameTable{counts: make(map[string]int)}
}

func (t *NameTable) Unique(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = randomName()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	count := t.counts[name]
	t.counts[name] = count + 1
	if count == 0 {
		return name
	}
	return name + "_" + strconv.Itoa(count)
}

func randomName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
