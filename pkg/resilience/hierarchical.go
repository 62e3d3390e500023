package resilience

import (
	"sync"
)

// Reputation tracks a requester's success/failure history and rescales
// its bucket limit into a [0.5, 1.0] multiplier, per §4.8: "reputation
// score (successes / (successes + failures)) on a [0,1] scale, rescaled
// into a [0.5, 1.0] multiplier".
type Reputation struct {
	mu        sync.Mutex
	successes int64
	failures  int64
}

func (r *Reputation) RecordSuccess() {
	r.mu.Lock()
	r.successes++
	r.mu.Unlock()
}

func (r *Reputation) RecordFailure() {
	r.mu.Lock()
	r.failures++
	r.mu.Unlock()
}

// Multiplier returns the [0.5, 1.0] rate multiplier derived from the
// success ratio. A requester with no history gets the neutral 0.75.
func (r *Reputation) Multiplier() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := r.successes + r.failures
	if total == 0 {
		return 0.75
	}
	score := float64(r.successes) / float64(total)
	return 0.5 + score*0.5
}

// BucketFactory creates a new per-key bucket given its base (max, rate),
// used when a per-IP or per-token bucket is first seen.
type BucketFactory func(maxTokens int, refillRate float64) *TokenBucket

// HierarchicalLimiter consults three buckets in order — global, per-IP,
// per-token — admitting a request only if all applicable buckets admit it
// (§4.8). Per-IP buckets are created lazily with limits adjusted by that
// IP's reputation.
type HierarchicalLimiter struct {
	global *TokenBucket

	baseIPMax  int
	baseIPRate float64
	ipMu       sync.Mutex
	perIP      map[string]*TokenBucket
	ipRep      map[string]*Reputation

	perTokenMax  int
	perTokenRate float64
	tokenMu      sync.Mutex
	perToken     map[string]*TokenBucket
}

// NewHierarchicalLimiter builds the three-tier limiter. Per-IP and
// per-token bucket parameters describe the base (unscaled) limits; per-IP
// limits are scaled down/up by reputation on creation.
func NewHierarchicalLimiter(globalMax int, globalRate float64, perIPMax int, perIPRate float64, perTokenMax int, perTokenRate float64) *HierarchicalLimiter {
	return &HierarchicalLimiter{
		global:       NewTokenBucket(globalMax, globalRate),
		baseIPMax:    perIPMax,
		baseIPRate:   perIPRate,
		perIP:        make(map[string]*TokenBucket),
		ipRep:        make(map[string]*Reputation),
		perTokenMax:  perTokenMax,
		perTokenRate: perTokenRate,
		perToken:     make(map[string]*TokenBucket),
	}
}

// Admit checks the global bucket, then (if ip is non-empty) the per-IP
// bucket, then (if token is non-empty) the per-token bucket. All
// applicable tiers must admit.
func (h *HierarchicalLimiter) Admit(ip, token string) bool {
	if !h.global.TryConsume(1) {
		return false
	}
	if ip != "" {
		if !h.ipBucket(ip).TryConsume(1) {
			return false
		}
	}
	if token != "" {
		if !h.tokenBucket(token).TryConsume(1) {
			return false
		}
	}
	return true
}

// Global exposes the top-tier bucket, used by callers surfacing
// X-RateLimit-* response headers on rejection (§6.1).
func (h *HierarchicalLimiter) Global() *TokenBucket { return h.global }

// RecordOutcome feeds an IP's reputation tracker, affecting future bucket
// creation/scaling decisions (existing buckets are not resized live;
// degraded reputation narrows the limit the next time the IP's bucket is
// (re)created).
func (h *HierarchicalLimiter) RecordOutcome(ip string, success bool) {
	if ip == "" {
		return
	}
	h.ipMu.Lock()
	rep, ok := h.ipRep[ip]
	if !ok {
		rep = &Reputation{}
		h.ipRep[ip] = rep
	}
	h.ipMu.Unlock()

	if success {
		rep.RecordSuccess()
	} else {
		rep.RecordFailure()
	}
}

func (h *HierarchicalLimiter) ipBucket(ip string) *TokenBucket {
	h.ipMu.Lock()
	defer h.ipMu.Unlock()
	if b, ok := h.perIP[ip]; ok {
		return b
	}
	rep, ok := h.ipRep[ip]
	if !ok {
		rep = &Reputation{}
		h.ipRep[ip] = rep
	}
	mult := rep.Multiplier()
	b := NewTokenBucket(int(float64(h.baseIPMax)*mult), h.baseIPRate*mult)
	h.perIP[ip] = b
	return b
}

func (h *HierarchicalLimiter) tokenBucket(token string) *TokenBucket {
	h.tokenMu.Lock()
	defer h.tokenMu.Unlock()
	if b, ok := h.perToken[token]; ok {
		return b
	}
	b := NewTokenBucket(h.perTokenMax, h.perTokenRate)
	h.perToken[token] = b
	return b
}
