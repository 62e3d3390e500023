// Package resilience implements C8: token-bucket rate limiting, a
// hierarchical (global/per-IP/per-token) limiter, a sliding window with
// priority-aware eviction, an adaptive per-endpoint rate controller, and a
// circuit breaker, the way eve.evalgo.org/network's proxy load balancer and
// http/server.go's golang.org/x/time/rate usage do it, generalized from a
// single reverse-proxy rate limit into the CAS/REAPI-facing resilience
// layer in front of remote requests.
package resilience

// Priority is the total order {Low < Normal < High < Critical} used by the
// ready queue, the sliding window's eviction rule, and priority bypass.
type Priority int

const (
	Low Priority = iota
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}
