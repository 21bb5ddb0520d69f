package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"subpool/internal/shared/types"
)

// Default 返回带有默认值的配置，LoadIni 在其基础上覆盖。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{Mode: "serve", DataDir: "data"},
		LogConf:    types.LogConf{Level: "info"},
		StoreConf:  types.StoreConf{DSN: "file://data/pool.tsv", Table: "sub_proxy"},
		PoolConf: types.PoolConf{
			ChunkSize:         50,
			EvictionThreshold: 3,
			MergePolicy:       "skip",
			FilterInfoNodes:   true,
			SourcesFile:       "configs/sources.yaml",
		},
		CheckerConf: types.CheckerConf{
			Mode:            "forward",
			Probe:           "http",
			StartPort:       20001,
			DefaultTestURL:  "https://www.google.com",
			DomesticTestURL: "https://www.qq.com",
			ConnectTimeout:  3,
			ProbeTimeout:    10,
			BatchTimeout:    60,
			Warmup:          3,
			StartAttempts:   3,
			Concurrency:     50,
			RatePerSecond:   20,
			LossFailRatio:   0.5,
		},
		RuntimeConf: types.RuntimeConf{Binary: "mihomo", WorkDir: "data/runtime"},
		WebConf:     types.WebConf{Port: 8090},
		SchedulerConf: types.SchedulerConf{
			CheckIntervalMinutes: 30,
			MergeIntervalMinutes: 360,
		},
	}
}

// LoadIni 加载 subpool.ini，并用环境变量覆盖部分敏感或部署相关的值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnv(&cfg.StoreConf.DSN, "SUBPOOL_STORE_DSN")
	overrideFromEnvInt(&cfg.CheckerConf.StartPort, "PROXY_POOL_START_PORT")
	overrideFromEnv(&cfg.RuntimeConf.AuthUser, "AUTH_USER")
	overrideFromEnv(&cfg.RuntimeConf.AuthPass, "AUTH_PASSWORD")
	return nil
}

// LoadSources 加载订阅源清单。文件不存在时返回空清单。
func LoadSources(fileName string) (*types.Sources, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return &types.Sources{}, nil
		}
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var sources types.Sources
	if err := yaml.Unmarshal(data, &sources); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", fileName, err)
	}
	return &sources, nil
}

// SaveSources 将订阅源清单写回文件。
func SaveSources(fileName string, sources *types.Sources) error {
	data, err := yaml.Marshal(sources)
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fileName), 0755); err != nil {
		return err
	}
	return os.WriteFile(fileName, data, 0644)
}

func overrideFromEnv(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
