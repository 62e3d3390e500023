package scheduler

import "github.com/forgecore/forgecore/pkg/graph"

// RetryPolicy bounds retries per action (default 3, §4.4). Worker-loss
// retries go through the same path as execution-failure retries: both
// increment the node's retry counter and, while retries remain, re-enter
// Ready at front-of-queue for High/Critical priority.
type RetryPolicy struct {
	MaxRetries int
}

// DefaultRetryPolicy returns the default of 3 retries.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3}
}

// ShouldRetry reports whether node has retries remaining. It does not
// itself mutate the node; callers decide whether to call node.IncRetry().
func (p RetryPolicy) ShouldRetry(node *graph.Node) bool {
	return node.RetryCount() < p.MaxRetries
}
