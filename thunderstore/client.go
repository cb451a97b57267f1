package thunderstore

import (
	"context"
	"fmt"
	"time"

	"github.com/deftorch/deftheim/config"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// registryTimeout bounds a full listing fetch; downloads use the transport defaults.
	registryTimeout = 30 * time.Second
	retryCount      = 2
)

// Client handles communication with the Thunderstore API and CDN.
type Client struct {
	BaseURL   string
	UserAgent string
	http      *resty.Client
	limiter   *rate.Limiter
	log       *zap.SugaredLogger
}

// NewClient creates a new Thunderstore client using the provided configuration.
func NewClient(cfg config.Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("USERAGENT is not configured")
	}
	if cfg.RegistryURL == "" {
		return nil, fmt.Errorf("REGISTRY_URL is not configured")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New().
		SetRetryCount(retryCount).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(trustedRedirectPolicy(DefaultTrustedHosts))
	restyClient.SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		BaseURL:   cfg.RegistryURL,
		UserAgent: cfg.UserAgent,
		http:      restyClient,
		limiter:   limiter,
		log:       log,
	}, nil
}

func (c *Client) get(ctx context.Context, url, accept string, target interface{}) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req := c.http.R().SetContext(ctx).SetHeader("Accept", accept)
	if target != nil {
		req.SetResult(target)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.IsError() {
		body := resp.Body()
		if len(body) > 256 {
			body = body[:256]
		}
		return resp, fmt.Errorf("request failed: status %d, body: %s", resp.StatusCode(), string(body))
	}
	return resp, nil
}

// FetchPackages retrieves the full package listing of the community.
func (c *Client) FetchPackages(ctx context.Context) ([]Listing, error) {
	ctx, cancel := context.WithTimeout(ctx, registryTimeout)
	defer cancel()

	c.log.Infow("Fetching packages from Thunderstore", zap.String("url", c.BaseURL))

	var listings []Listing
	if _, err := c.get(ctx, c.BaseURL+"/package/", "application/json", &listings); err != nil {
		return nil, fmt.Errorf("failed to fetch package listing: %w", err)
	}

	c.log.Infow("Fetched packages", zap.Int("count", len(listings)))
	return listings, nil
}

// Fetch downloads the whole payload behind locator into memory.
func (c *Client) Fetch(ctx context.Context, locator string) ([]byte, error) {
	resp, err := c.get(ctx, locator, "application/octet-stream", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", locator, err)
	}
	return resp.Body(), nil
}
