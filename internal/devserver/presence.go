package devserver

import (
	"context"
	"sort"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Presence tracks which users currently hold at least one open
// socket, per institution subdomain. Consumers only ever pull
// point-in-time snapshots; there is no incremental diff stream.
type Presence interface {
	SetOnline(ctx context.Context, subdomain, userID string) error
	SetOffline(ctx context.Context, subdomain, userID string) error
	OnlineUsers(ctx context.Context, subdomain string) ([]string, error)
}

// Redis key prefix for per-subdomain online sets
const presenceOnlinePrefix = "presence:online:"

// RedisPresence stores online sets in Redis so presence survives a
// dev-server restart and can be inspected with redis-cli.
type RedisPresence struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewRedisPresence(client *goredis.Client, ttl time.Duration) *RedisPresence {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &RedisPresence{client: client, ttl: ttl}
}

func (p *RedisPresence) SetOnline(ctx context.Context, subdomain, userID string) error {
	key := presenceOnlinePrefix + subdomain
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *RedisPresence) SetOffline(ctx context.Context, subdomain, userID string) error {
	return p.client.SRem(ctx, presenceOnlinePrefix+subdomain, userID).Err()
}

func (p *RedisPresence) OnlineUsers(ctx context.Context, subdomain string) ([]string, error) {
	return p.client.SMembers(ctx, presenceOnlinePrefix+subdomain).Result()
}

// MemoryPresence is the in-process fallback used when no Redis is
// configured, and by tests.
type MemoryPresence struct {
	mu     sync.Mutex
	online map[string]map[string]int // subdomain -> userID -> socket count
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: make(map[string]map[string]int)}
}

func (p *MemoryPresence) SetOnline(ctx context.Context, subdomain, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.online[subdomain] == nil {
		p.online[subdomain] = make(map[string]int)
	}
	p.online[subdomain][userID]++
	return nil
}

func (p *MemoryPresence) SetOffline(ctx context.Context, subdomain, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users, ok := p.online[subdomain]; ok {
		users[userID]--
		if users[userID] <= 0 {
			delete(users, userID)
		}
	}
	return nil
}

func (p *MemoryPresence) OnlineUsers(ctx context.Context, subdomain string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for userID := range p.online[subdomain] {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}
