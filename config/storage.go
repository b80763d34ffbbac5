package config

import (
	"fmt"
	"strings"
	"time"
)

// StorageBackend selects where credentials are persisted.
type StorageBackend string

const (
	// StorageBackendMemory keeps credentials in process; they do not survive a restart.
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendRedis persists credentials in Redis.
	StorageBackendRedis StorageBackend = "redis"
)

// UnmarshalText implements encoding.TextUnmarshaler for StorageBackend.
func (s *StorageBackend) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "memory", "redis":
		*s = StorageBackend(v)
		return nil
	default:
		return fmt.Errorf("invalid StorageBackend: %q (valid options: memory, redis)", v)
	}
}

// StorageConfig contains credential store configuration.
type StorageConfig struct {
	Backend StorageBackend `env:"STORAGE_BACKEND" envDefault:"memory"`

	// MaxValueBytes is the size ceiling per stored value.
	MaxValueBytes int `env:"STORAGE_MAX_VALUE_BYTES" envDefault:"2048"`

	KeyPrefix string `env:"STORAGE_KEY_PREFIX" envDefault:"canvas-bridge:cred:"`

	// TTL is refreshed on every write; 0 keeps keys until deleted.
	TTL time.Duration `env:"STORAGE_TTL" envDefault:"720h"`

	MemoryCapacity int `env:"STORAGE_MEMORY_CAPACITY" envDefault:"64"`
}

// Sanitize applies guardrails to storage configuration values.
func (s *StorageConfig) Sanitize() {
	if s.Backend == "" {
		s.Backend = StorageBackendMemory
	}
	if s.MaxValueBytes < 256 {
		s.MaxValueBytes = 256
	}
	if s.TTL < 0 {
		s.TTL = 0
	}
	if s.MemoryCapacity < 1 {
		s.MemoryCapacity = 1
	}
}

// RedisConfig contains Redis configuration.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	SentinelPort       string   `env:"SENTINEL_PORT"        envDefault:"26379"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
	ClusterNodes       []string `env:"CLUSTER_NODES"        envDefault:""`
	UseCluster         bool     `env:"USE_CLUSTER"          envDefault:"false"`
}
