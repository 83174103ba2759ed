// Package config loads the options enumerated in §6.3 plus the transport/
// registry settings needed to run a complete server, using viper the way the
// teacher's config package does (defaults registered up front, overridden by
// file and PLAYHOUSE_* environment variables).
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized option. Field names mirror the §6.3 table.
type Config struct {
	RequestTimeout       time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	MaxMessageSize        int
	MaxBodySize           int
	TCPPort              int
	WebSocketPath        string
	AuthenticateMsgID    string
	DefaultStageType     string
	StageDispatchBurst   int
	GameLoopMaxAccumulator time.Duration

	ServiceType   string
	ServerID      string
	NatsURL       string
	GRPCAddr      string
	EtcdEndpoints []string
	MetricsAddr   string
}

// NewViper builds a *viper.Viper pre-loaded with every default from §6.3.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("requestTimeoutMs", 30000)
	v.SetDefault("heartbeatIntervalMs", 10000)
	v.SetDefault("heartbeatTimeoutMs", 30000)
	v.SetDefault("maxMessageSize", 10*1024*1024)
	v.SetDefault("maxBodySize", 2*1024*1024)
	v.SetDefault("tcpPort", 0)
	v.SetDefault("webSocketPath", "")
	v.SetDefault("authenticateMsgId", "Auth")
	v.SetDefault("defaultStageType", "")
	v.SetDefault("stageDispatchBurst", 256)
	v.SetDefault("gameLoopMaxAccumulatorMs", 0) // 0 => 5x timestep, resolved per-loop
	v.SetDefault("serviceType", "play")
	v.SetDefault("serverId", "1")
	v.SetDefault("natsUrl", "nats://localhost:4222")
	v.SetDefault("grpcAddr", "")
	v.SetDefault("etcdEndpoints", []string{"localhost:2379"})
	v.SetDefault("metricsAddr", ":9090")

	v.SetEnvPrefix("PLAYHOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads an optional config file (if path != "") on top of the viper
// defaults/env and materializes a typed Config.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &Config{
		RequestTimeout:         time.Duration(v.GetInt("requestTimeoutMs")) * time.Millisecond,
		HeartbeatInterval:      time.Duration(v.GetInt("heartbeatIntervalMs")) * time.Millisecond,
		HeartbeatTimeout:       time.Duration(v.GetInt("heartbeatTimeoutMs")) * time.Millisecond,
		MaxMessageSize:         v.GetInt("maxMessageSize"),
		MaxBodySize:            v.GetInt("maxBodySize"),
		TCPPort:                v.GetInt("tcpPort"),
		WebSocketPath:          v.GetString("webSocketPath"),
		AuthenticateMsgID:      v.GetString("authenticateMsgId"),
		DefaultStageType:       v.GetString("defaultStageType"),
		StageDispatchBurst:     v.GetInt("stageDispatchBurst"),
		GameLoopMaxAccumulator: time.Duration(v.GetInt("gameLoopMaxAccumulatorMs")) * time.Millisecond,
		ServiceType:            v.GetString("serviceType"),
		ServerID:               v.GetString("serverId"),
		NatsURL:                v.GetString("natsUrl"),
		GRPCAddr:               v.GetString("grpcAddr"),
		EtcdEndpoints:          v.GetStringSlice("etcdEndpoints"),
		MetricsAddr:            v.GetString("metricsAddr"),
	}, nil
}

// Default returns a Config built purely from defaults, useful for tests.
func Default() *Config {
	c, _ := Load(NewViper(), "")
	return c
}
