package client

import (
	"context"
	"net/http"
	"net/url"
	"sync"
)

// perHostClientLimiter is a semaphore that limits the number of concurrent connections per host
type perHostClientLimiter struct {
	pool chan *HTTPClient
}

// ClientPool is the dialing side of the transfer package's Engine: it
// implements the Do(ctx, req) signature Workers and the Prober call
// against, checking out a per-host-capped *HTTPClient for the duration of
// the request.
type ClientPool interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

type clientPool struct {
	perHostClientPool map[string]*perHostClientLimiter
	clientPoolMutex   sync.RWMutex
	maxConnsPerHost   int
	transport         http.RoundTripper // non-nil only in tests
}

var _ ClientPool = &clientPool{}

// NewClientPool returns a ClientPool that caps concurrent open connections
// to maxConnsPerHost per scheme+host bucket. maxConnsPerHost <= 0 disables
// the cap and hands back a fresh client per request.
func NewClientPool(maxConnsPerHost int) ClientPool {
	return &clientPool{
		perHostClientPool: make(map[string]*perHostClientLimiter),
		maxConnsPerHost:   maxConnsPerHost,
	}
}

// NewClientPoolWithTransport is NewClientPool with the underlying
// transport pinned to rt, for tests that intercept requests with httpmock
// rather than hitting the network.
func NewClientPoolWithTransport(maxConnsPerHost int, rt http.RoundTripper) ClientPool {
	return &clientPool{
		perHostClientPool: make(map[string]*perHostClientLimiter),
		maxConnsPerHost:   maxConnsPerHost,
		transport:         rt,
	}
}

func (p *clientPool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if p.maxConnsPerHost <= 0 {
		c := newClient(req.URL.Host, p.transport)
		return c.Do(req)
	}
	schemeHost := schemeHostKey(req.URL)
	c, err := p.acquireClient(schemeHost)
	if err != nil {
		return nil, err
	}
	defer p.releaseClient(schemeHost, c)
	return c.Do(req)
}

func (p *clientPool) acquireClient(schemeHost string) (*HTTPClient, error) {
	p.clientPoolMutex.RLock()
	hostLimiter, ok := p.perHostClientPool[schemeHost]
	p.clientPoolMutex.RUnlock()
	if !ok {
		hostLimiter = &perHostClientLimiter{pool: make(chan *HTTPClient, p.maxConnsPerHost)}
		for c := 0; c < p.maxConnsPerHost; c++ {
			hostLimiter.pool <- newClient(schemeHost, p.transport)
		}

		p.clientPoolMutex.Lock()
		// we need to check again to see if a concurrent goroutine has
		// won the race to create a client pool
		newHostLimiter, ok := p.perHostClientPool[schemeHost]
		if ok {
			hostLimiter = newHostLimiter
		} else {
			p.perHostClientPool[schemeHost] = hostLimiter
		}
		p.clientPoolMutex.Unlock()
	}

	return <-hostLimiter.pool, nil
}

func (p *clientPool) releaseClient(schemeHost string, client *HTTPClient) {
	p.clientPoolMutex.RLock()
	defer p.clientPoolMutex.RUnlock()
	p.perHostClientPool[schemeHost].pool <- client
}

func schemeHostKey(u *url.URL) string {
	return u.Scheme + u.Host
}
