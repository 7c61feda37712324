package client

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/viper"

	"github.com/replicate/kdl/pkg/config"
	"github.com/replicate/kdl/pkg/logging"
	"github.com/replicate/kdl/pkg/optname"
	"github.com/replicate/kdl/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond
	retrySleepJitter = 500 // added 0-500ms jitter on top of the backoff curve
)

// HTTPClient is a thin wrapper around http.Client tagged with the host it
// was checked out of a ClientPool for.
type HTTPClient struct {
	*http.Client
	host string
}

type UserAgentTransport struct {
	Transport http.RoundTripper
}

func (t *UserAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("kdl/%s", version.GetVersion()))
	return t.Transport.RoundTrip(req)
}

// newClient returns an http.Client configured from the current flag set:
// connect timeout, optional forced HTTP/2, and retryablehttp-backed
// transport-level retries for connection failures and 5xx/429 responses.
// Segment-level retry/demotion decisions live in the transfer package; this
// layer only absorbs transient network blips before they reach it.
func newClient(host string, override http.RoundTripper) *HTTPClient {
	var rt http.RoundTripper = override
	if rt == nil {
		rt = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: transportDialContext(&net.Dialer{
				Timeout:   viper.GetDuration(optname.ConnTimeout),
				KeepAlive: 30 * time.Second,
			}),
			ForceAttemptHTTP2:     viper.GetBool(optname.ForceHTTP2),
			MaxIdleConns:          100,
			MaxConnsPerHost:       viper.GetInt(optname.ConnectionsPerHost),
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	transport := &UserAgentTransport{Transport: rt}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport:     transport,
			CheckRedirect: checkRedirectFunc,
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     viper.GetInt(optname.Retries),
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      backoffFunc,
	}

	return &HTTPClient{Client: retryClient.StandardClient(), host: host}
}

// backoffFunc wraps retryablehttp.DefaultBackoff with jitter, to avoid a
// thundering herd of retries across many concurrently running segments.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

func checkRedirectFunc(req *http.Request, via []*http.Request) error {
	logger := logging.GetLogger()
	logger.Trace().
		Str("redirect_url", req.URL.String()).
		Str("url", via[0].URL.String()).
		Int("status", req.Response.StatusCode).
		Msg("Redirect")
	return nil
}

// transportDialContext overrides DNS lookups for host:port pairs named by
// --resolve, without touching the Host header or TLS server name.
func transportDialContext(dialer *net.Dialer) func(context.Context, string, string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if addrOverride := config.HostToIPResolutionMap[addr]; addrOverride != "" {
			logger := logging.GetLogger()
			logger.Debug().Str("addr", addr).Str("override", addrOverride).Msg("DNS Override")
			addr = addrOverride
		}
		return dialer.DialContext(ctx, network, addr)
	}
}

// GetSchemeHostKey returns the scheme+host portion of a URL, used as the
// client pool's per-host bucket key.
func GetSchemeHostKey(urlString string) (string, error) {
	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host), nil
}
