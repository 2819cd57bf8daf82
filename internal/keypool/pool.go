// Package keypool 管理 LLM API 密钥池与会话到密钥的亲和分配。
package keypool

import (
	"errors"
	"sync"
	"time"
)

// ErrNoKeys 表示池中没有任何可用密钥（未排除的密钥已用尽）。
var ErrNoKeys = errors.New("密钥池中没有可用的密钥")

// entry 是池中一个密钥的运行时状态，生命周期与进程一致。
type entry struct {
	key           string
	useCount      int64
	errorCount    int64
	degradedUntil time.Time
}

// session 记录一个会话当前绑定的密钥下标与最近活跃时间。
type session struct {
	keyIndex int
	lastSeen time.Time
}

// KeyStats 是对外暴露的单个密钥统计信息，密钥本体做掩码处理。
type KeyStats struct {
	Key        string `json:"key"`
	UseCount   int64  `json:"useCount"`
	ErrorCount int64  `json:"errorCount"`
	Degraded   bool   `json:"degraded"`
}

// Pool 是进程级共享的密钥池。所有状态变更在一把互斥锁下完成，
// 临界区只有计数与小 map 写入。
type Pool struct {
	mu         sync.Mutex
	entries    []*entry
	sessions   map[string]*session
	cooldown   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

// New 用配置的密钥列表创建密钥池。cooldown 是密钥失败后的临时降级时长，
// sessionTTL 是会话绑定的闲置回收时长。密钥列表为空时返回错误。
func New(keys []string, cooldown, sessionTTL time.Duration) (*Pool, error) {
	if len(keys) == 0 {
		return nil, errors.New("至少需要配置一个 LLM API 密钥")
	}
	p := &Pool{
		sessions:   make(map[string]*session),
		cooldown:   cooldown,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
	for _, k := range keys {
		p.entries = append(p.entries, &entry{key: k})
	}
	return p, nil
}

// Size 返回池中密钥数量，即一次请求内的最大尝试次数。
func (p *Pool) Size() int {
	return len(p.entries)
}

// Acquire 为一次调用挑选密钥。同一会话优先复用已绑定且未被排除、
// 未处于降级期的密钥；否则在未排除的密钥中选取未降级且使用次数最少的，
// 并将其绑定到该会话。exclude 中列出本次请求已经失败过的密钥，
// 保证一次请求内同一密钥不会被重试两次。
func (p *Pool) Acquire(sessionID string, exclude map[string]bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	p.evictIdleSessions(now)

	if sessionID != "" {
		if s, ok := p.sessions[sessionID]; ok {
			e := p.entries[s.keyIndex]
			if !exclude[e.key] && now.After(e.degradedUntil) {
				s.lastSeen = now
				e.useCount++
				return e.key, nil
			}
		}
	}

	idx := p.pickLocked(now, exclude)
	if idx < 0 {
		return "", ErrNoKeys
	}
	e := p.entries[idx]
	e.useCount++
	if sessionID != "" {
		p.sessions[sessionID] = &session{keyIndex: idx, lastSeen: now}
	}
	return e.key, nil
}

// pickLocked 在未排除的密钥中选取：未降级者优先，其次使用次数最少，
// 平局取下标靠前者。所有候选都在降级期时仍然放行（降级只是临时状态，
// 不应让整个池永久不可用），同样按使用次数取最少。
func (p *Pool) pickLocked(now time.Time, exclude map[string]bool) int {
	best := -1
	bestDegraded := true
	for i, e := range p.entries {
		if exclude[e.key] {
			continue
		}
		degraded := now.Before(e.degradedUntil)
		if best < 0 ||
			(!degraded && bestDegraded) ||
			(degraded == bestDegraded && e.useCount < p.entries[best].useCount) {
			best = i
			bestDegraded = degraded
		}
	}
	return best
}

// MarkSuccess 记录一次成功调用，并清除该密钥的降级状态。
func (p *Pool) MarkSuccess(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.key == key {
			e.degradedUntil = time.Time{}
			return
		}
	}
}

// MarkFailure 记录一次可重试失败，将该密钥降级一个冷却周期。
// 降级是临时的：冷却到期后密钥自动回到轮转中。
func (p *Pool) MarkFailure(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.key == key {
			e.errorCount++
			e.degradedUntil = p.now().Add(p.cooldown)
			return
		}
	}
}

// ClearSession 解除一个会话的密钥绑定。
func (p *Pool) ClearSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, sessionID)
}

// Stats 返回所有密钥的使用统计，密钥只保留前缀便于排查。
func (p *Pool) Stats() []KeyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	stats := make([]KeyStats, 0, len(p.entries))
	for _, e := range p.entries {
		stats = append(stats, KeyStats{
			Key:        maskKey(e.key),
			UseCount:   e.useCount,
			ErrorCount: e.errorCount,
			Degraded:   now.Before(e.degradedUntil),
		})
	}
	return stats
}

// evictIdleSessions 惰性回收超过 TTL 未活跃的会话绑定。
func (p *Pool) evictIdleSessions(now time.Time) {
	for id, s := range p.sessions {
		if now.Sub(s.lastSeen) > p.sessionTTL {
			delete(p.sessions, id)
		}
	}
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "****"
}
