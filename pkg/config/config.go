// Package config 提供配置加载功能
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig relayserver 配置
type ServerConfig struct {
	Server     ServerSection    `yaml:"server"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Connection ConnectionConfig `yaml:"connection"`
	Protection ProtectionConfig `yaml:"protection"`
	Room       RoomConfig       `yaml:"room"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerSection 服务器基础配置
type ServerSection struct {
	Port            int           `yaml:"port"`
	PublicURL       string        `yaml:"public_url"` // 二维码中嵌入的客户端入口地址
	Env             string        `yaml:"env"`        // development, production
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	ReadBufferSize   int           `yaml:"read_buffer_size"`
	WriteBufferSize  int           `yaml:"write_buffer_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	MaxMessageSize   int64         `yaml:"max_message_size"`
}

// ConnectionConfig 连接配置
type ConnectionConfig struct {
	SendChSize   int           `yaml:"send_ch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProtectionConfig 连接保护配置
type ProtectionConfig struct {
	MessageRate  float64 `yaml:"message_rate"` // 每秒允许的上行消息数
	MessageBurst int     `yaml:"message_burst"`
}

// RoomConfig 房间配置
type RoomConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	CodeAttempts  int           `yaml:"code_attempts"`
}

// KafkaConfig Kafka 配置，Brokers 为空时不发布房间事件
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	QueueSize    int           `yaml:"queue_size"`
}

// AdminConfig 运维接口配置，JWTSecret 为空时不挂载
type AdminConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultServerConfig 返回默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Port:            8080,
			PublicURL:       "http://localhost:8080/controller",
			Env:             "development",
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
			MaxMessageSize:   64 << 10,
		},
		Connection: ConnectionConfig{
			SendChSize:   256,
			WriteTimeout: 5 * time.Second,
		},
		Protection: ProtectionConfig{
			MessageRate:  120,
			MessageBurst: 240,
		},
		Room: RoomConfig{
			MaxAge:        time.Hour,
			SweepInterval: time.Minute,
			CodeAttempts:  20,
		},
		Kafka: KafkaConfig{
			Topic:        "motionlink.room-events",
			BatchSize:    100,
			BatchTimeout: 500 * time.Millisecond,
			QueueSize:    1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadServerConfig 加载配置：默认值 → YAML 文件（可选） → 环境变量
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnv 用环境变量覆盖配置
func (c *ServerConfig) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("PUBLIC_URL"); ok && v != "" {
		c.Server.PublicURL = v
	}
	if v, ok := lookup("APP_ENV"); ok && v != "" {
		c.Server.Env = v
		if v == "production" {
			c.Log.Format = "json"
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok && v != "" {
		c.Log.Format = v
	}
	if v, ok := lookup("ROOM_MAX_AGE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid ROOM_MAX_AGE %q: %w", v, err)
		}
		c.Room.MaxAge = d
	}
	if v, ok := lookup("SWEEP_INTERVAL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SWEEP_INTERVAL %q: %w", v, err)
		}
		c.Room.SweepInterval = d
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("KAFKA_TOPIC"); ok && v != "" {
		c.Kafka.Topic = v
	}
	if v, ok := lookup("ADMIN_JWT_SECRET"); ok && v != "" {
		c.Admin.JWTSecret = v
	}
	return nil
}

// Validate 校验配置
func (c *ServerConfig) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Connection.SendChSize <= 0 {
		errs = append(errs, errors.New("connection.send_ch_size must be positive"))
	}
	if c.Connection.WriteTimeout <= 0 {
		errs = append(errs, errors.New("connection.write_timeout must be positive"))
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("websocket.max_message_size must be positive"))
	}
	if c.Room.MaxAge <= 0 {
		errs = append(errs, errors.New("room.max_age must be positive"))
	}
	if c.Room.SweepInterval <= 0 {
		errs = append(errs, errors.New("room.sweep_interval must be positive"))
	}
	if c.Room.CodeAttempts <= 0 {
		errs = append(errs, errors.New("room.code_attempts must be positive"))
	}
	if c.Protection.MessageRate < 0 || c.Protection.MessageBurst < 0 {
		errs = append(errs, errors.New("protection limits must not be negative"))
	}
	if c.Protection.MessageRate > 0 && c.Protection.MessageBurst < 1 {
		errs = append(errs, errors.New("protection.message_burst must be at least 1 when message_rate is set"))
	}
	return errors.Join(errs...)
}

// IsProduction 是否生产环境
func (c *ServerConfig) IsProduction() bool {
	return c.Server.Env == "production"
}

// Addr 返回监听地址
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
