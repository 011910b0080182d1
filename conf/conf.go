package conf

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/kr/pretty"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

var (
	conf *Config
	once sync.Once
)

type Config struct {
	Env      string
	Hertz    Hertz    `yaml:"hertz"`
	Redis    Redis    `yaml:"redis"`
	Postgres Postgres `yaml:"postgres"`
	Kafka    Kafka    `yaml:"kafka"`
	Registry Registry `yaml:"registry"`
	Exchange Exchange `yaml:"exchange"`
	Sync     Sync     `yaml:"sync"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Username string `yaml:"username"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN string `yaml:"dsn" validate:"nonzero"`
}

type Kafka struct {
	Brokers      []string `yaml:"brokers"`
	EventTopic   string   `yaml:"event_topic"`
	DroppedTopic string   `yaml:"dropped_topic"`
}

type Registry struct {
	RegistryAddress []string `yaml:"registry_address"`
	ServiceName     string   `yaml:"service_name"`
}

// Exchange holds the outbound REST endpoints. FuturesBase serves the signed
// account endpoints, SpotBase the public ticker used as the primary price
// source.
type Exchange struct {
	FuturesBase  string `yaml:"futures_base"`
	SpotBase     string `yaml:"spot_base"`
	RecvWindowMs int64  `yaml:"recv_window_ms"`
	TimeoutSec   int    `yaml:"timeout_sec"`
}

type Sync struct {
	PositionIntervalSec int `yaml:"position_interval_sec"`
	PriceIntervalSec    int `yaml:"price_interval_sec"`
	HistoryEvery        int `yaml:"history_every"`
	SnapshotIntervalMin int `yaml:"snapshot_interval_min"`
	HeartbeatSec        int `yaml:"heartbeat_sec"`
	WorkerPoolSize      int `yaml:"worker_pool_size"`
}

type Hertz struct {
	Service         string `yaml:"service"`
	Address         string `yaml:"address"`
	EnablePprof     bool   `yaml:"enable_pprof"`
	EnableGzip      bool   `yaml:"enable_gzip"`
	EnableAccessLog bool   `yaml:"enable_access_log"`
	LogLevel        string `yaml:"log_level"`
	LogFileName     string `yaml:"log_file_name"`
	LogMaxSize      int    `yaml:"log_max_size"`
	LogMaxBackups   int    `yaml:"log_max_backups"`
	LogMaxAge       int    `yaml:"log_max_age"`
}

// GetConf gets configuration instance
func GetConf() *Config {
	once.Do(initConf)
	return conf
}

func initConf() {
	prefix := "conf"
	confFileRelPath := filepath.Join(prefix, filepath.Join(GetEnv(), "conf.yaml"))
	content, err := os.ReadFile(confFileRelPath)
	if err != nil {
		panic(err)
	}

	conf = new(Config)
	err = yaml.Unmarshal(content, conf)
	if err != nil {
		hlog.Error("parse yaml error - %v", err)
		panic(err)
	}
	if err := validator.Validate(conf); err != nil {
		hlog.Error("validate config error - %v", err)
		panic(err)
	}

	conf.Env = GetEnv()
	applyDefaults(conf)

	pretty.Printf("%+v\n", conf)
}

func applyDefaults(c *Config) {
	if c.Exchange.FuturesBase == "" {
		c.Exchange.FuturesBase = "https://fapi.binance.com"
	}
	if c.Exchange.SpotBase == "" {
		c.Exchange.SpotBase = "https://api.binance.com"
	}
	if c.Exchange.RecvWindowMs == 0 {
		c.Exchange.RecvWindowMs = 15000
	}
	if c.Exchange.TimeoutSec == 0 {
		c.Exchange.TimeoutSec = 20
	}
	if c.Sync.PositionIntervalSec == 0 {
		c.Sync.PositionIntervalSec = 30
	}
	if c.Sync.PriceIntervalSec == 0 {
		c.Sync.PriceIntervalSec = 10
	}
	if c.Sync.HistoryEvery == 0 {
		c.Sync.HistoryEvery = 10
	}
	if c.Sync.SnapshotIntervalMin == 0 {
		c.Sync.SnapshotIntervalMin = 60
	}
	if c.Sync.HeartbeatSec == 0 {
		c.Sync.HeartbeatSec = 30
	}
	if c.Sync.WorkerPoolSize == 0 {
		c.Sync.WorkerPoolSize = 256
	}
}

func GetEnv() string {
	e := os.Getenv("GO_ENV")
	if len(e) == 0 {
		return "test"
	}
	return e
}

func LogLevel() hlog.Level {
	level := GetConf().Hertz.LogLevel
	switch level {
	case "trace":
		return hlog.LevelTrace
	case "debug":
		return hlog.LevelDebug
	case "info":
		return hlog.LevelInfo
	case "notice":
		return hlog.LevelNotice
	case "warn":
		return hlog.LevelWarn
	case "error":
		return hlog.LevelError
	case "fatal":
		return hlog.LevelFatal
	default:
		return hlog.LevelInfo
	}
}
