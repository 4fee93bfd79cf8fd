package airship

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL = "https://go.urbanairship.com"
	DefaultTimeout = 10 * time.Second

	// MaxBatchSize is the largest number of push ids the per-push detail
	// endpoint accepts in one request.
	MaxBatchSize = 100
)

type Settings struct {
	Airship   APISettings       `yaml:"airship" json:"airship"`
	Redis     RedisSettings     `yaml:"redis" json:"redis"`
	RocketMQ  RocketMQSettings  `yaml:"rocketmq" json:"rocketmq"`
	Collector CollectorSettings `yaml:"collector" json:"collector"`
	Breaker   BreakerSettings   `yaml:"breaker" json:"breaker"`
	Metrics   MetricsSettings   `yaml:"metrics" json:"metrics"`
}

type APISettings struct {
	AppKey       string        `yaml:"app-key" json:"appKey"`
	MasterSecret string        `yaml:"master-secret" json:"masterSecret"`
	BaseURL      string        `yaml:"base-url" json:"baseUrl"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
}

type RedisSettings struct {
	Enabled  string        `yaml:"enabled" json:"enabled"`
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	Database int           `yaml:"database" json:"database"`
	Password string        `yaml:"password" json:"password"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
	PoolSize int           `yaml:"pool-size" json:"poolSize"`
}

type RocketMQSettings struct {
	Enabled    string           `yaml:"enabled" json:"enabled"`
	NameServer string           `yaml:"name-server" json:"nameServer"`
	Producer   RocketMQProducer `yaml:"producer" json:"producer"`
	Topic      string           `yaml:"topic" json:"topic"`
	Tag        string           `yaml:"tag" json:"tag"`
}

type RocketMQProducer struct {
	AccessKey string `yaml:"access-key" json:"accessKey"`
	SecretKey string `yaml:"secret-key" json:"secretKey"`
	Group     string `yaml:"group" json:"group"`
}

// CollectorSettings drives the background worker that drains push ids from
// Redis and snapshots their reports.
type CollectorSettings struct {
	QueueKey        string        `yaml:"queue-key" json:"queueKey"`
	KeyPrefix       string        `yaml:"key-prefix" json:"keyPrefix"`
	BatchSize       int           `yaml:"batch-size" json:"batchSize"`
	SeriesPrecision string        `yaml:"series-precision" json:"seriesPrecision"`
	SnapshotTTL     time.Duration `yaml:"snapshot-ttl" json:"snapshotTtl"`
	PopBlock        time.Duration `yaml:"pop-block" json:"popBlock"`
}

type BreakerSettings struct {
	Enabled   string        `yaml:"enabled" json:"enabled"`
	Threshold int           `yaml:"threshold" json:"threshold"`
	Window    time.Duration `yaml:"window" json:"window"`
	OpenFor   time.Duration `yaml:"open-for" json:"openFor"`
}

type MetricsSettings struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Credentials returns the key pair every request is authenticated with.
func (s APISettings) Credentials() Credentials {
	return Credentials{AppKey: s.AppKey, MasterSecret: s.MasterSecret}
}

func (s Settings) WithDefaults() Settings {
	o := s
	o.Airship = o.Airship.WithDefaults()
	o.Redis.Enabled = normalizeYN(o.Redis.Enabled)
	o.RocketMQ.Enabled = normalizeYN(o.RocketMQ.Enabled)
	o.Breaker.Enabled = normalizeYN(o.Breaker.Enabled)

	if o.Redis.Port == 0 {
		o.Redis.Port = 6379
	}
	if o.Redis.Timeout == 0 {
		o.Redis.Timeout = 5 * time.Second
	}
	if o.Collector.QueueKey == "" {
		o.Collector.QueueKey = "airship:perpush:queue"
	}
	if o.Collector.KeyPrefix == "" {
		o.Collector.KeyPrefix = "airship:perpush"
	}
	if o.Collector.BatchSize <= 0 || o.Collector.BatchSize > MaxBatchSize {
		o.Collector.BatchSize = MaxBatchSize
	}
	o.Collector.SeriesPrecision = strings.TrimSpace(strings.ToUpper(o.Collector.SeriesPrecision))
	if o.Collector.SnapshotTTL == 0 {
		o.Collector.SnapshotTTL = 24 * time.Hour
	}
	if o.Collector.PopBlock == 0 {
		o.Collector.PopBlock = 5 * time.Second
	}
	if o.Breaker.Threshold <= 0 {
		o.Breaker.Threshold = 5
	}
	if o.Breaker.Window == 0 {
		o.Breaker.Window = 30 * time.Second
	}
	if o.Breaker.OpenFor == 0 {
		o.Breaker.OpenFor = 30 * time.Second
	}
	if o.Metrics.Addr == "" {
		o.Metrics.Addr = ":2112"
	}
	return o
}

func (s APISettings) WithDefaults() APISettings {
	o := s
	o.AppKey = strings.TrimSpace(o.AppKey)
	o.MasterSecret = strings.TrimSpace(o.MasterSecret)
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// Load supports comma-separated config files: "common.yml,reports.yml".
// Later files override fields set by earlier ones.
func Load(pathList string) (Settings, error) {
	if strings.TrimSpace(pathList) == "" {
		return Settings{}, errors.New("config path required (e.g. ./config.yml or common.yml,reports.yml)")
	}

	var s Settings
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return Settings{}, err
		}
		if err := yaml.Unmarshal(b, &s); err != nil {
			return Settings{}, err
		}
	}
	return s.WithDefaults(), nil
}

func normalizeYN(v string) string {
	switch strings.TrimSpace(strings.ToUpper(v)) {
	case "Y", "YES", "TRUE", "1":
		return "Y"
	default:
		return "N"
	}
}
