// Package nasapi provides the GraphQL client for the NAS API.
package nasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/nas-companion/internal/domain/nas"
	"github.com/edumarques81/nas-companion/internal/pubsub"
)

const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRedirects is how many 302 hops one query follows.
	DefaultMaxRedirects = 5

	headerAPIKey = "x-api-key"
)

var (
	// ErrMissingLocation is returned for a 302 without a usable Location header.
	ErrMissingLocation = errors.New("redirect without location")
	// ErrTooManyRedirects is returned when a query exceeds the hop limit.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrUnexpectedStatus is returned for any status other than 200 and 302.
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

// transportError marks failures at the I/O layer.
type transportError struct{ err error }

func (e *transportError) Error() string { return "transport: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// decodeError marks payloads that do not match the expected shape.
type decodeError struct{ err error }

func (e *decodeError) Error() string { return "decode: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

// Client issues authenticated GraphQL queries against the configured descriptor.
type Client struct {
	httpClient   *http.Client
	maxRedirects int
	userAgent    string
	current      *pubsub.Latest[nas.Descriptor]
}

// Option is a functional option for configuring the client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client. Its redirect policy is replaced so
// that 302 responses reach the client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WithMaxRedirects sets how many redirects a single query may follow.
func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

// WithUserAgent sets the User-Agent header sent with every query.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a client with no descriptor configured. Queries block
// until Configure is called.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		maxRedirects: DefaultMaxRedirects,
		current: pubsub.NewLatest(func(a, b nas.Descriptor) bool {
			return a == b
		}),
	}

	for _, opt := range opts {
		opt(c)
	}

	hc := *c.httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c.httpClient = &hc

	return c
}

// Configure replaces the descriptor used by subsequent queries. It reports
// whether the value changed.
func (c *Client) Configure(d nas.Descriptor) bool {
	changed := c.current.Publish(d)
	if changed {
		log.Debug().Stringer("descriptor", d).Msg("NAS API descriptor configured")
	}
	return changed
}

// Current returns the configured descriptor, if any.
func (c *Client) Current() (nas.Descriptor, bool) {
	return c.current.Get()
}

// Descriptors streams descriptor changes, including base URL rewrites caused
// by redirects. The latest value is replayed on subscription.
func (c *Client) Descriptors(ctx context.Context) <-chan nas.Descriptor {
	return c.current.Subscribe(ctx)
}

// CheckConnection issues the identity query.
func (c *Client) CheckConnection(ctx context.Context) nas.Result[ConnectionCheckInfo] {
	r := query[connectionCheckData](ctx, c, ConnectionCheckQuery)
	data, ok := r.Value()
	if !ok {
		return nas.FailAs[ConnectionCheckInfo](r)
	}
	return nas.Ok(*data.Info)
}

// QueryDashboardData issues the dashboard query.
func (c *Client) QueryDashboardData(ctx context.Context) nas.Result[DashboardData] {
	return query[DashboardData](ctx, c, DashboardQuery)
}

type graphQLError struct {
	Message string `json:"message"`
}

type response[T any] struct {
	Data   *T             `json:"data"`
	Errors []graphQLError `json:"errors"`
}

func query[T any](ctx context.Context, c *Client, q Query) nas.Result[T] {
	body, err := c.performQuery(ctx, nas.GraphQLPath, q.Body())
	if err != nil {
		kind := classify(err)
		log.Warn().Err(err).Str("kind", kind.String()).Msg("NAS query failed")
		return nas.Fail[T](kind)
	}

	data, err := decode[T](body)
	if err != nil {
		kind := classify(err)
		log.Warn().Err(err).Str("kind", kind.String()).Msg("NAS response rejected")
		return nas.Fail[T](kind)
	}
	return nas.Ok(*data)
}

func decode[T any](body []byte) (*T, error) {
	var resp response[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &decodeError{err}
	}
	if resp.Data == nil {
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
		}
		return nil, &decodeError{errors.New("missing data")}
	}
	if v, ok := any(*resp.Data).(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, &decodeError{err}
		}
	}
	return resp.Data, nil
}

// performQuery POSTs body to <baseUrl>/<path>, following 302 responses by
// rewriting the descriptor's base URL.
func (c *Client) performQuery(ctx context.Context, path string, body []byte) ([]byte, error) {
	d, err := c.current.Wait(ctx)
	if err != nil {
		return nil, err
	}

	for redirects := 0; ; redirects++ {
		queryURL := strings.TrimRight(d.BaseURL, "/") + "/" + path
		log.Debug().Str("url", queryURL).Int("redirects", redirects).Msg("Performing GraphQL query")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		setHeaders(req, d, path)
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, &transportError{err}
		}

		switch resp.StatusCode {
		case http.StatusOK:
			data, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, &transportError{err}
			}
			return data, nil

		case http.StatusFound:
			location := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if redirects >= c.maxRedirects {
				return nil, fmt.Errorf("%w: limit %d", ErrTooManyRedirects, c.maxRedirects)
			}
			baseURL, err := redirectBase(req.URL, location, path)
			if err != nil {
				return nil, err
			}

			log.Info().Str("from", d.BaseURL).Str("to", baseURL).Msg("NAS redirected, updating base URL")
			d = d.WithRedirect(baseURL)
			c.current.Publish(d)

		default:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
		}
	}
}

func setHeaders(req *http.Request, d nas.Descriptor, path string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerAPIKey, d.Credential)
	req.Header.Set("Origin", d.BaseURL)
	if d.Redirected() {
		req.Header.Set("Referer", d.Address+"/"+path)
	}
}

// redirectBase resolves location against the request URL and strips the
// trailing /<path> to recover the new origin.
func redirectBase(reqURL *url.URL, location, path string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", ErrMissingLocation
	}

	u, err := reqURL.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingLocation, err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	if u.Host == "" {
		return "", fmt.Errorf("%w: no host in %q", ErrMissingLocation, location)
	}

	base := strings.TrimSuffix(u.String(), "/")
	base = strings.TrimSuffix(base, "/"+path)
	return base, nil
}

func classify(err error) nas.ErrorKind {
	var te *transportError
	var de *decodeError
	switch {
	case errors.As(err, &te):
		return nas.ConnectionError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nas.ConnectionError
	case errors.As(err, &de):
		return nas.ParsingError
	default:
		return nas.InternalError
	}
}
