package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/flable/flable-backend/pkg/config"
	"github.com/flable/flable-backend/pkg/enums"
	pkgerrors "github.com/flable/flable-backend/pkg/errors"
	"github.com/flable/flable-backend/pkg/logger"
	"github.com/flable/flable-backend/pkg/metrics"
)

const (
	defaultPageLimit = 250
	maxPageLimit     = 250
	maxResponseBytes = 16 << 20
)

var (
	errClientIDRequired     = errors.New("shopify client id is required")
	errClientSecretRequired = errors.New("shopify client secret is required")
)

// Options carries the collaborators of a Client. Zero values fall back to
// sensible defaults.
type Options struct {
	HTTPClient *http.Client
	Limiters   *LimiterRegistry
	Metrics    *metrics.UpstreamMetrics
	Logger     *logger.Logger
	// BaseURL resolves the origin for a shop. Tests point it at httptest.
	BaseURL func(shop string) string
}

// Client talks to the Shopify Admin REST API and OAuth endpoints with
// per-connection rate limiting and bounded retries.
type Client struct {
	http         *http.Client
	clientID     string
	clientSecret string
	redirectURL  string
	scopes       []string
	apiVersion   string
	maxAttempts  int
	backoffBase  time.Duration
	backoffMax   time.Duration
	limiters     *LimiterRegistry
	metrics      *metrics.UpstreamMetrics
	logger       *logger.Logger
	baseURL      func(string) string
	jitter       func(time.Duration) time.Duration
	sleep        func(context.Context, time.Duration) error
	now          func() time.Time
}

// PageRequest selects one page of a resource. Cursor is the page_info token
// from the previous page; the first page uses UpdatedAtMin instead.
type PageRequest struct {
	Resource     enums.ResourceType
	Cursor       string
	UpdatedAtMin *time.Time
	Limit        int
}

// Page is one page of raw resource payloads. Next is empty on the last page.
type Page struct {
	Items []json.RawMessage
	Next  string
}

func NewClient(cfg config.ShopifyConfig, opts Options) (*Client, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errClientIDRequired
	}
	secret := strings.TrimSpace(cfg.ClientSecret)
	if secret == "" {
		return nil, errClientSecretRequired
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	limiters := opts.Limiters
	if limiters == nil {
		limiters = NewLimiterRegistry(cfg.RatePerSec, cfg.RateBurst)
	}
	baseURL := opts.BaseURL
	if baseURL == nil {
		baseURL = func(shop string) string { return "https://" + shop }
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = "2024-01"
	}

	return &Client{
		http:         httpClient,
		clientID:     clientID,
		clientSecret: secret,
		redirectURL:  cfg.RedirectURL,
		scopes:       cfg.ScopeList(),
		apiVersion:   version,
		maxAttempts:  maxAttempts,
		backoffBase:  cfg.BackoffBase,
		backoffMax:   cfg.BackoffMax,
		limiters:     limiters,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		baseURL:      baseURL,
		jitter:       fullJitter,
		sleep:        sleepContext,
		now:          time.Now,
	}, nil
}

// Limiters exposes the per-connection limiter registry.
func (c *Client) Limiters() *LimiterRegistry {
	return c.limiters
}

// FetchPage retrieves one page of resource payloads for shop.
func (c *Client) FetchPage(ctx context.Context, shop Shop, token string, req PageRequest) (Page, error) {
	if !req.Resource.IsValid() {
		return Page{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown resource %q", req.Resource))
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if req.Cursor != "" {
		q.Set("page_info", req.Cursor)
	} else {
		if req.UpdatedAtMin != nil && !req.UpdatedAtMin.IsZero() {
			q.Set("updated_at_min", req.UpdatedAtMin.UTC().Format(time.RFC3339))
		}
		if req.Resource == enums.ResourceOrders {
			q.Set("status", "any")
		}
	}

	endpoint := c.adminURL(shop.Domain, req.Resource.String()+".json") + "?" + q.Encode()
	body, header, err := c.get(ctx, shop, token, req.Resource.String(), endpoint)
	if err != nil {
		return Page{}, err
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shopify page")
	}
	var items []json.RawMessage
	if raw, ok := envelope[req.Resource.String()]; ok && len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &items); err != nil {
			return Page{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shopify items")
		}
	}

	return Page{Items: items, Next: nextPageInfo(header.Get("Link"))}, nil
}

// ShopInfo fetches the store profile.
func (c *Client) ShopInfo(ctx context.Context, shop Shop, token string) (ShopInfo, error) {
	body, _, err := c.get(ctx, shop, token, "shop", c.adminURL(shop.Domain, "shop.json"))
	if err != nil {
		return ShopInfo{}, err
	}
	var payload struct {
		Shop struct {
			ID           json.Number `json:"id"`
			Name         string      `json:"name"`
			Email        string      `json:"email"`
			Currency     string      `json:"currency"`
			IANATimezone string      `json:"iana_timezone"`
			PlanName     string      `json:"plan_name"`
		} `json:"shop"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ShopInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode shop info")
	}
	return ShopInfo{
		ID:       payload.Shop.ID.String(),
		Name:     payload.Shop.Name,
		Email:    payload.Shop.Email,
		Currency: payload.Shop.Currency,
		Timezone: payload.Shop.IANATimezone,
		Plan:     payload.Shop.PlanName,
	}, nil
}

func (c *Client) adminURL(shop, path string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL(shop), c.apiVersion, path)
}

// get performs a rate-limited GET, retrying 429 and 5xx responses and
// transport errors with jittered exponential backoff.
func (c *Client) get(ctx context.Context, shop Shop, token, op, endpoint string) ([]byte, http.Header, error) {
	limiter := c.limiters.Get(limiterKey(shop))
	var lastErr error

	for attempt := 1; ; attempt++ {
		waitStart := c.now()
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, mapContextError(ctxErr, op)
			}
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeTimeout, err, fmt.Sprintf("shopify %s rate limit wait", op))
		}
		c.metrics.ObserveWait(c.now().Sub(waitStart).Seconds())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build shopify request")
		}
		req.Header.Set("X-Shopify-Access-Token", token)
		req.Header.Set("Accept", "application/json")

		var delay time.Duration
		resp, err := c.http.Do(req)
		if err != nil {
			c.metrics.ObserveRequest(op, 0)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, nil, mapContextError(ctxErr, op)
			}
			lastErr = pkgerrors.Wrap(pkgerrors.CodeTransientUpstream, err, fmt.Sprintf("shopify %s request failed", op))
			delay = c.jitter(backoffDelay(c.backoffBase, c.backoffMax, attempt))
		} else {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
			resp.Body.Close()
			c.metrics.ObserveRequest(op, resp.StatusCode)

			switch {
			case readErr != nil:
				lastErr = pkgerrors.Wrap(pkgerrors.CodeTransientUpstream, readErr, fmt.Sprintf("shopify %s read failed", op))
				delay = c.jitter(backoffDelay(c.backoffBase, c.backoffMax, attempt))
			case resp.StatusCode >= 200 && resp.StatusCode < 300:
				return body, resp.Header, nil
			case !retryableStatus(resp.StatusCode):
				c.log(ctx, op, "shopify request rejected", map[string]any{"status": resp.StatusCode, "attempt": attempt})
				return nil, nil, mapStatusError(resp.StatusCode, string(body), op)
			default:
				lastErr = mapStatusError(resp.StatusCode, string(body), op)
				delay = c.jitter(backoffDelay(c.backoffBase, c.backoffMax, attempt))
				if hinted := retryAfter(resp.Header, c.now()); hinted > delay {
					delay = hinted
				}
			}
		}

		if attempt >= c.maxAttempts {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeTransientUpstream, lastErr,
				fmt.Sprintf("shopify %s exhausted %d attempts", op, attempt))
		}
		c.metrics.IncRetry(op)
		c.log(ctx, op, "shopify request retrying", map[string]any{"attempt": attempt, "delay_ms": delay.Milliseconds()})
		if err := c.sleep(ctx, delay); err != nil {
			return nil, nil, mapContextError(err, op)
		}
	}
}

func (c *Client) log(ctx context.Context, op, msg string, fields map[string]any) {
	if c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	c.logger.Warn(c.logger.WithFields(ctx, logFields), msg)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "code", "hmac", "email"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func limiterKey(shop Shop) string {
	if shop.ConnectionID != "" {
		return shop.ConnectionID
	}
	return shop.Domain
}

// nextPageInfo extracts page_info from the rel="next" entry of a Link header.
func nextPageInfo(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		isNext := false
		for _, param := range segments[1:] {
			if strings.TrimSpace(param) == `rel="next"` {
				isNext = true
				break
			}
		}
		if !isNext {
			continue
		}
		raw := strings.Trim(strings.TrimSpace(segments[0]), "<>")
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		return parsed.Query().Get("page_info")
	}
	return ""
}
