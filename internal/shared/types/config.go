package types

// CommonConf 包含共有的配置
type CommonConf struct {
	Mode    string `ini:"mode"`     // serve / check / merge / export
	DataDir string `ini:"data_dir"` // 运行期文件 (runtime 配置、导出) 的根目录
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
	File  string `ini:"file"`
}

// StoreConf 描述 KV 后端。DSN 的 scheme 决定使用哪种实现：
// redis://, rediss://, sqlite://, mysql://, postgres://, file://, memory://
type StoreConf struct {
	DSN   string `ini:"dsn"`
	Table string `ini:"table"`
}

// PoolConf 控制池的合并与健康检查节奏
type PoolConf struct {
	ChunkSize         int    `ini:"chunk_size"`
	EvictionThreshold int    `ini:"eviction_threshold"`
	MergePolicy       string `ini:"merge_policy"` // skip | overwrite
	FilterInfoNodes   bool   `ini:"filter_info_nodes"`
	SourcesFile       string `ini:"sources_file"`
}

// CheckerConf 是 Health Prober 的参数，所有时间单位为秒
type CheckerConf struct {
	Mode             string  `ini:"mode"`  // forward | direct
	Probe            string  `ini:"probe"` // http | socks5 | ping
	StartPort        int     `ini:"start_port"`
	DefaultTestURL   string  `ini:"default_test_url"`
	DomesticTestURL  string  `ini:"domestic_test_url"`
	ConnectTimeout   int     `ini:"connect_timeout"`
	ProbeTimeout     int     `ini:"probe_timeout"`
	BatchTimeout     int     `ini:"batch_timeout"`
	Warmup           int     `ini:"warmup"`
	StartAttempts    int     `ini:"start_attempts"`
	Concurrency      int     `ini:"concurrency"`
	RatePerSecond    float64 `ini:"rate_per_second"`
	LossFailRatio    float64 `ini:"loss_fail_ratio"`
	MaxLatencyMillis int     `ini:"max_latency_ms"`
	GeoIPDatabase    string  `ini:"geoip_db"`
}

// RuntimeConf 描述外部转发程序
type RuntimeConf struct {
	Binary   string `ini:"binary"`
	WorkDir  string `ini:"work_dir"`
	AuthUser string `ini:"auth_user"`
	AuthPass string `ini:"auth_password"`
}

// WebConf 状态面板
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// SchedulerConf 定时任务间隔 (分钟)
type SchedulerConf struct {
	CheckIntervalMinutes int `ini:"check_interval_minutes"`
	MergeIntervalMinutes int `ini:"merge_interval_minutes"`
}

// Config 是 subpool 的统一配置结构体
type Config struct {
	CommonConf    `ini:"common"`
	LogConf       `ini:"log"`
	StoreConf     `ini:"store"`
	PoolConf      `ini:"pool"`
	CheckerConf   `ini:"checker"`
	RuntimeConf   `ini:"runtime"`
	WebConf       `ini:"web"`
	SchedulerConf `ini:"scheduler"`
}

// Sources 是订阅源清单 (sources.yaml)
type Sources struct {
	Links  []string `yaml:"link"`   // 单条 URI
	Base64 []string `yaml:"base64"` // 返回 base64 包裹的 URI 列表的地址
	Clash  []string `yaml:"clash"`  // 返回带 proxies 列表的 YAML 文档的地址
	Pages  []string `yaml:"page"`   // HTML 页面，从 pre/code 中提取 URI
}
