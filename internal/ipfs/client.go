// Package ipfs fetches PQL documents from an IPFS HTTP API by content hash.
package ipfs

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
	"github.com/paralink-network/paralink-node/internal/httputil"
	"github.com/paralink-network/paralink-node/pkg/logger"
)

// DefaultTimeout bounds a single document fetch.
const DefaultTimeout = 3 * time.Second

// Fetcher returns the JSON document stored under a CID.
type Fetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Config holds client configuration.
type Config struct {
	APIURL   string
	Timeout  time.Duration
	Cache    Cache
	CacheTTL time.Duration
	Logger   *logger.Logger
}

// Client reads documents through /api/v0/cat.
type Client struct {
	cfg    Config
	client *httputil.Client
	log    *logger.Logger
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewDefault("ipfs")
	}
	return &Client{
		cfg:    cfg,
		client: httputil.NewClient(httputil.ClientConfig{BaseURL: cfg.APIURL, Timeout: cfg.Timeout}),
		log:    cfg.Logger,
	}
}

// WithAPIURL returns a client for another IPFS API sharing this client's
// cache.
func (c *Client) WithAPIURL(apiURL string) *Client {
	apiURL = strings.TrimSpace(apiURL)
	if apiURL == "" || strings.TrimRight(apiURL, "/") == strings.TrimRight(c.cfg.APIURL, "/") {
		return c
	}
	cfg := c.cfg
	cfg.APIURL = apiURL
	return NewClient(cfg)
}

// Fetch returns the raw JSON document. Missing, empty or non-JSON content is
// a PqlDecoding error; an unreachable API is an External error.
func (c *Client) Fetch(ctx context.Context, cid string) ([]byte, error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return nil, apperrors.PqlDecoding("empty ipfs hash")
	}

	if c.cfg.Cache != nil {
		if doc, ok, err := c.cfg.Cache.Get(ctx, cid); err != nil {
			c.log.WithError(err).WithField("cid", cid).Warn("document cache read failed")
		} else if ok {
			return doc, nil
		}
	}

	resp, err := c.client.Post(ctx, "/api/v0/cat?arg="+url.QueryEscape(cid), nil)
	if err != nil {
		return nil, apperrors.External(err, "ipfs cat %s", cid)
	}
	defer resp.Body.Close()

	body, err := httputil.ReadAllStrict(resp.Body, httputil.MaxBodySize)
	if err != nil {
		return nil, apperrors.PqlDecoding("ipfs document %s: %v", cid, err)
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.PqlDecoding("ipfs document %s not available: status %d", cid, resp.StatusCode)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, apperrors.PqlDecoding("ipfs document %s is empty", cid)
	}
	if !json.Valid(body) {
		return nil, apperrors.PqlDecoding("ipfs document %s is not valid JSON", cid)
	}

	if c.cfg.Cache != nil {
		if err := c.cfg.Cache.Set(ctx, cid, body, c.cfg.CacheTTL); err != nil {
			c.log.WithError(err).WithField("cid", cid).Warn("document cache write failed")
		}
	}
	return body, nil
}
