package storage

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"subpool/internal/shared/logger"
)

const (
	delimiter = "\t"
	numFields = 3 // Table\tKey\tValue, Value 是单行 JSON，不含原始制表符
)

// FileKV 实现了 KV 接口，使用纯文本文件进行持久化。
// 每次写操作都会整体重写文件，适合单进程、小规模的池。
type FileKV struct {
	filePath string
	mu       sync.RWMutex
	loaded   bool
	tables   map[string]map[string]string
}

// NewFileKV 创建一个新的 FileKV 实例。文件在首次访问时加载。
func NewFileKV(filePath string) *FileKV {
	return &FileKV{
		filePath: filePath,
		tables:   make(map[string]map[string]string),
	}
}

// load 从纯文本文件加载全部表到内存。调用方持有写锁。
func (fs *FileKV) load() error {
	if fs.loaded {
		return nil
	}
	l := logger.WithComponent("ProxyPool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Pool data file not found, starting with an empty pool.")
			fs.loaded = true
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	count := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, delimiter, numFields)
		if len(fields) != numFields {
			l.Warn().Int("line", lineNum).Int("expected", numFields).Int("got", len(fields)).Msg("Skipping malformed line in pool file.")
			continue
		}
		fs.table(fields[0])[fields[1]] = fields[2]
		count++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fs.loaded = true
	l.Debug().Int("count", count).Msg("Loaded pool entries from file.")
	return nil
}

// save 将内存中的所有表按 (table, key) 排序后写回文件。调用方持有写锁。
func (fs *FileKV) save() error {
	type row struct{ table, key, value string }
	rows := make([]row, 0)
	for t, entries := range fs.tables {
		for k, v := range entries {
			rows = append(rows, row{t, k, v})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].table != rows[j].table {
			return rows[i].table < rows[j].table
		}
		return rows[i].key < rows[j].key
	})

	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString(strings.Join([]string{r.table, r.key, r.value}, delimiter))
		sb.WriteString("\n")
	}

	if dir := filepath.Dir(fs.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(sb.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.filePath)
}

func (fs *FileKV) table(name string) map[string]string {
	t, ok := fs.tables[name]
	if !ok {
		t = make(map[string]string)
		fs.tables[name] = t
	}
	return t
}

// readLocked 确保已加载后在读锁下执行 fn。
func (fs *FileKV) readLocked(fn func()) error {
	fs.mu.RLock()
	if fs.loaded {
		defer fs.mu.RUnlock()
		fn()
		return nil
	}
	fs.mu.RUnlock()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.load(); err != nil {
		return err
	}
	fn()
	return nil
}

func (fs *FileKV) Get(_ context.Context, table, key string) (string, error) {
	var (
		v  string
		ok bool
	)
	if err := fs.readLocked(func() { v, ok = fs.tables[table][key] }); err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (fs *FileKV) Put(_ context.Context, table, key, value string) error {
	if strings.ContainsAny(key, "\t\n") || strings.ContainsAny(value, "\n") {
		return &StoreError{Table: table, Key: key, Op: "put", Err: os.ErrInvalid}
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.load(); err != nil {
		return err
	}
	fs.table(table)[key] = value
	return fs.save()
}

func (fs *FileKV) Delete(_ context.Context, table, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.load(); err != nil {
		return err
	}
	if _, ok := fs.tables[table][key]; !ok {
		return nil
	}
	delete(fs.tables[table], key)
	return fs.save()
}

func (fs *FileKV) Exists(_ context.Context, table, key string) (bool, error) {
	var ok bool
	err := fs.readLocked(func() { _, ok = fs.tables[table][key] })
	return ok, err
}

func (fs *FileKV) Values(_ context.Context, table string) ([]string, error) {
	var out []string
	err := fs.readLocked(func() {
		keys := sortedKeys(fs.tables[table])
		out = make([]string, 0, len(keys))
		for _, k := range keys {
			out = append(out, fs.tables[table][k])
		}
	})
	return out, err
}

func (fs *FileKV) Items(_ context.Context, table string) (map[string]string, error) {
	var out map[string]string
	err := fs.readLocked(func() {
		out = make(map[string]string, len(fs.tables[table]))
		for k, v := range fs.tables[table] {
			out[k] = v
		}
	})
	return out, err
}

func (fs *FileKV) Close() error { return nil }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
