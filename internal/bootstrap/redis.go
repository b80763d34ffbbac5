package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/canvas-bridge/config"
)

const redisPingTimeout = 5 * time.Second

// RedisOptions contains configuration for the Redis connection backing the credential store.
type RedisOptions struct {
	Config config.RedisConfig
	Logger *slog.Logger
}

type redisTopology int

const (
	topologySingle redisTopology = iota
	topologySentinel
	topologyCluster
)

// ConnectRedis opens the client backing the persisted credential store and verifies it
// with a PING. The caller owns the returned client.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(ctx context.Context, opts RedisOptions) (redis.UniversalClient, error) {
	uo, topo, err := universalOptions(opts.Config)
	if err != nil {
		return nil, err
	}

	var client redis.UniversalClient
	switch topo {
	case topologyCluster:
		client = redis.NewClusterClient(uo.Cluster())
	case topologySentinel:
		client = redis.NewFailoverClient(uo.Failover())
	default:
		client = redis.NewClient(uo.Simple())
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if opts.Logger != nil {
		opts.Logger.InfoContext(ctx, "credential store redis connected",
			"topology", topo.String(),
			"addr", describeRedis(uo, topo))
	}
	return client, nil
}

func (t redisTopology) String() string {
	switch t {
	case topologyCluster:
		return "cluster"
	case topologySentinel:
		return "sentinel"
	default:
		return "single"
	}
}

// universalOptions maps REDIS_* settings onto go-redis options. Cluster wins over sentinel.
// A redis:// or rediss:// URI contributes address, credentials and TLS.
func universalOptions(cfg config.RedisConfig) (*redis.UniversalOptions, redisTopology, error) {
	uo := &redis.UniversalOptions{Password: cfg.Password}

	switch {
	case cfg.UseCluster:
		uo.Addrs = trimAddrs(cfg.ClusterNodes)
		if len(uo.Addrs) == 0 {
			if err := applyURI(uo, cfg.URI); err != nil {
				return nil, topologyCluster, err
			}
		}
		if len(uo.Addrs) == 0 {
			return nil, topologyCluster, errors.New("redis cluster configuration requires at least one address")
		}
		return uo, topologyCluster, nil

	case cfg.UseSentinel:
		uo.Addrs = trimAddrs(cfg.SentinelNodes)
		if len(uo.Addrs) == 0 {
			return nil, topologySentinel, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		uo.MasterName = strings.TrimSpace(cfg.SentinelMasterName)
		if uo.MasterName == "" {
			return nil, topologySentinel, errors.New("redis sentinel configuration requires a master name")
		}
		uo.SentinelPassword = cfg.SentinelPassword
		return uo, topologySentinel, nil

	default:
		if strings.TrimSpace(cfg.URI) == "" {
			return nil, topologySingle, errors.New("redis direct configuration requires a URI")
		}
		if err := applyURI(uo, cfg.URI); err != nil {
			return nil, topologySingle, err
		}
		return uo, topologySingle, nil
	}
}

func applyURI(uo *redis.UniversalOptions, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil
	}
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		uo.Addrs = []string{uri}
		return nil
	}
	parsed, err := redis.ParseURL(uri)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	uo.Addrs = []string{parsed.Addr}
	uo.Username = parsed.Username
	if parsed.Password != "" {
		uo.Password = parsed.Password
	}
	uo.DB = parsed.DB
	uo.TLSConfig = parsed.TLSConfig
	return nil
}

func trimAddrs(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, addr := range raw {
		if a := strings.TrimSpace(addr); a != "" {
			out = append(out, a)
		}
	}
	return out
}

// describeRedis renders the target for logs without credentials.
func describeRedis(uo *redis.UniversalOptions, topo redisTopology) string {
	addrs := make([]string, len(uo.Addrs))
	for i, a := range uo.Addrs {
		if u, err := url.Parse(a); err == nil && u.User != nil {
			u.User = nil
			a = u.String()
		} else if at := strings.LastIndex(a, "@"); at > -1 {
			a = a[at+1:]
		}
		addrs[i] = a
	}
	desc := strings.Join(addrs, ",")
	if topo == topologySentinel {
		desc = uo.MasterName + "@" + desc
	}
	return desc
}
