package cas

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/forgecore/forgecore/pkg/ferr"
	"github.com/forgecore/forgecore/pkg/hashing"
	"github.com/forgecore/forgecore/pkg/resilience"
)

// Client is the thin HTTP client other components (the REAPI adapter,
// a remote worker fetching inputs) use against a remote CAS Server. The
// transport pools connections per host (§4.6 "connection pooling") and
// retries are gated by a circuit breaker per the resilience layer (§8)
// rather than retrying blindly against a downed endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	breaker *resilience.CircuitBreaker
	retries int
}

// ClientOption customizes a Client beyond its defaults.
type ClientOption func(*Client)

// WithCircuitBreaker installs a breaker guarding outbound requests; Do
// calls short-circuit with a NetworkError while the breaker is open
// instead of adding load to a failing remote.
func WithCircuitBreaker(b *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// WithRetries sets how many additional attempts Get/Put/Has/Delete make
// on a retryable NetworkError before giving up (default 2).
func WithRetries(n int) ClientOption {
	return func(c *Client) { c.retries = n }
}

func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		retries: 2,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do executes fn, retrying on a retryable NetworkError up to c.retries
// times with a short linear backoff, and consulting/recording the
// circuit breaker around every attempt.
func (c *Client) do(op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if c.breaker != nil && !c.breaker.Allow() {
			return ferr.New(ferr.KindNetwork, op, "", ferr.ErrUnreachable).WithRemedy("circuit open")
		}
		err = fn()
		if c.breaker != nil {
			if err == nil {
				c.breaker.RecordSuccess()
			} else {
				c.breaker.RecordFailure()
			}
		}
		if err == nil || !ferr.IsRetryable(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return err
}

func (c *Client) req(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, ferr.New(ferr.KindNetwork, "cas.Client", path, err)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	return r, nil
}

// Has performs a HEAD request to check blob existence without downloading it.
func (c *Client) Has(ctx context.Context, digest hashing.Digest) (bool, error) {
	var found bool
	err := c.do("cas.Client.Has", func() error {
		r, err := c.req(ctx, http.MethodHead, "/artifacts/"+digest.Hex(), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(r)
		if err != nil {
			return ferr.New(ferr.KindNetwork, "cas.Client.Has", digest.Hex(), err).WithRetry()
		}
		defer resp.Body.Close()
		found = resp.StatusCode == http.StatusOK
		return nil
	})
	return found, err
}

// Get downloads the blob for digest.
func (c *Client) Get(ctx context.Context, digest hashing.Digest) ([]byte, error) {
	var data []byte
	err := c.do("cas.Client.Get", func() error {
		r, err := c.req(ctx, http.MethodGet, "/artifacts/"+digest.Hex(), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(r)
		if err != nil {
			return ferr.New(ferr.KindNetwork, "cas.Client.Get", digest.Hex(), err).WithRetry()
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return ferr.New(ferr.KindCache, "cas.Client.Get", digest.Hex(), ferr.ErrNotFound).WithPromotable()
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return ferr.New(ferr.KindRateLimit, "cas.Client.Get", digest.Hex(), ferr.ErrTimeout).WithRetry()
		}
		if resp.StatusCode != http.StatusOK {
			return ferr.New(ferr.KindNetwork, "cas.Client.Get", digest.Hex(), fmt.Errorf("unexpected status %d", resp.StatusCode)).WithRetry()
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return ferr.New(ferr.KindNetwork, "cas.Client.Get", digest.Hex(), err).WithRetry()
		}
		data = body
		return nil
	})
	return data, err
}

// Put uploads data, computing its digest locally before the round trip so
// the server-side digest check (handlePut) is purely a defense-in-depth
// verification rather than the source of truth.
func (c *Client) Put(ctx context.Context, data []byte) (hashing.Digest, error) {
	digest := hashing.Sum(data)
	err := c.do("cas.Client.Put", func() error {
		r, err := c.req(ctx, http.MethodPut, "/artifacts/"+digest.Hex(), bytes.NewReader(data))
		if err != nil {
			return err
		}
		resp, err := c.http.Do(r)
		if err != nil {
			return ferr.New(ferr.KindNetwork, "cas.Client.Put", digest.Hex(), err).WithRetry()
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			return ferr.New(ferr.KindRateLimit, "cas.Client.Put", digest.Hex(), ferr.ErrTimeout).WithRetry()
		}
		if resp.StatusCode != http.StatusCreated {
			return ferr.New(ferr.KindNetwork, "cas.Client.Put", digest.Hex(), fmt.Errorf("unexpected status %d", resp.StatusCode)).WithRetry()
		}
		return nil
	})
	return digest, err
}

// Delete removes the blob for digest from the remote CAS.
func (c *Client) Delete(ctx context.Context, digest hashing.Digest) error {
	return c.do("cas.Client.Delete", func() error {
		r, err := c.req(ctx, http.MethodDelete, "/artifacts/"+digest.Hex(), nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(r)
		if err != nil {
			return ferr.New(ferr.KindNetwork, "cas.Client.Delete", digest.Hex(), err).WithRetry()
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
			return ferr.New(ferr.KindNetwork, "cas.Client.Delete", digest.Hex(), fmt.Errorf("unexpected status %d", resp.StatusCode)).WithRetry()
		}
		return nil
	})
}

// FindMissing reports which of the given digests the remote CAS does not
// already hold, so callers can upload only what's needed.
func (c *Client) FindMissing(ctx context.Context, digests []hashing.Digest) ([]hashing.Digest, error) {
	var missing []hashing.Digest
	for _, d := range digests {
		ok, err := c.Has(ctx, d)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, d)
		}
	}
	return missing, nil
}
