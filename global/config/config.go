package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the gateway node configuration. Zero values are
// normalized to production defaults by Norm(); tests shrink the
// timing knobs directly.
type AppConfig struct {
	NodeId   string `yaml:"node_id"`
	HTTPAddr string `yaml:"http_addr"`

	// Handshake / liveness.
	AuthDeadline      time.Duration `yaml:"auth_deadline"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteWait         time.Duration `yaml:"write_wait"`
	SendBuffer        int           `yaml:"send_buffer"`

	// Optional HMAC secret for tokens on the auth frame. Empty
	// disables token verification (identity check only).
	TokenSecret string `yaml:"token_secret"`

	Redis    RedisConfig    `yaml:"redis"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Postgres PostgresConfig `yaml:"postgres"`
	Nats     NatsConfig     `yaml:"nats"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type NatsConfig struct {
	URL string `yaml:"url"`
}

func (c *AppConfig) Norm() {
	if c.NodeId == "" {
		c.NodeId = "gateway_01"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.AuthDeadline <= 0 {
		c.AuthDeadline = 5 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Mongo.URI == "" {
		c.Mongo.URI = "mongodb://127.0.0.1:27017"
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "meshhub"
	}
}

// Load reads a YAML config file. Missing file is not an error: the
// returned config carries defaults, with env overrides applied.
func Load(path string) (*AppConfig, error) {
	c := &AppConfig{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err == nil {
			if uerr := yaml.Unmarshal(b, c); uerr != nil {
				return nil, uerr
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	applyEnv(c)
	c.Norm()
	return c, nil
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("MESHHUB_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("MESHHUB_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("MESHHUB_MONGO_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("MESHHUB_PG_DSN"); v != "" {
		c.Postgres.DSN = v
	}
	if v := os.Getenv("MESHHUB_NATS_URL"); v != "" {
		c.Nats.URL = v
	}
	if v := os.Getenv("MESHHUB_TOKEN_SECRET"); v != "" {
		c.TokenSecret = v
	}
}
