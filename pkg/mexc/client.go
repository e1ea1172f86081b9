package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultSpotURL    = "https://api.mexc.com"
	defaultFuturesURL = "https://contract.mexc.com"

	apiKeyHeader = "X-MEXC-APIKEY"

	requestTimeout = 15 * time.Second
	maxErrorBody   = 512

	// Marker served by the forwarding proxy's interstitial page when it
	// has not been activated for this origin. Brittle coupling to one
	// external service's HTML, kept because there is no structured
	// signal to detect it by.
	activationMarker = "corsdemo"
)

// Auth carries everything a signed call needs. Values are taken from
// the per-cycle configuration snapshot, never from shared state.
type Auth struct {
	APIKey     string
	APISecret  string
	Forwarding Forwarding
}

// ForwardStyle selects how the forwarding base addresses the target.
type ForwardStyle string

const (
	// ForwardQuery encodes the target into a url query parameter:
	// base?url=<encoded-target>
	ForwardQuery ForwardStyle = "query"
	// ForwardPath appends the target to the base path: base/<target>
	ForwardPath ForwardStyle = "path"
)

// Forwarding is the optional relay every call is routed through when a
// base is configured.
type Forwarding struct {
	Base  string
	Style ForwardStyle
}

// Wrap rewrites target to go through the forwarder. A zero Forwarding
// returns target unchanged.
func (f Forwarding) Wrap(target string) string {
	if f.Base == "" {
		return target
	}
	if f.Style == ForwardPath {
		return strings.TrimRight(f.Base, "/") + "/" + target
	}
	return f.Base + "?url=" + url.QueryEscape(target)
}

// Param is a single query parameter. Parameter order is significant:
// the string that gets signed must be byte-identical to the string
// transmitted, so params are kept as an ordered slice rather than a
// map.
type Param struct {
	Key   string
	Value string
}

type Params []Param

func (p Params) With(key, value string) Params {
	return append(p, Param{Key: key, Value: value})
}

// Encode renders the params in insertion order.
func (p Params) Encode() string {
	var sb strings.Builder
	for i, kv := range p {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(url.QueryEscape(kv.Key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv.Value))
	}
	return sb.String()
}

// Client performs signed and unsigned exchange calls and normalizes
// their responses. It holds no account state; credentials arrive with
// each call.
type Client struct {
	spotURL    string
	futuresURL string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	now        func() time.Time
}

func NewClient(logger *logrus.Logger) *Client {
	return &Client{
		spotURL:    defaultSpotURL,
		futuresURL: defaultFuturesURL,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		logger:     logger,
		now:        time.Now,
	}
}

// envelope is the common response wrapper used by both the spot and
// futures APIs. Spot error payloads carry code/msg; futures wrap data
// in success/code/data.
type envelope struct {
	Code    *int            `json:"code"`
	Success *bool           `json:"success"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *envelope) errMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	return e.Message
}

func (e *envelope) rejected() bool {
	if e.Success != nil {
		return !*e.Success
	}
	if e.Code != nil {
		return *e.Code != 0 && *e.Code != 200
	}
	return false
}

// PrivateRequest builds, signs, and dispatches an authenticated call
// and returns the normalized payload. endpoint is an absolute URL
// without query string.
func (c *Client) PrivateRequest(ctx context.Context, method, endpoint string, auth Auth, params Params) (json.RawMessage, error) {
	if auth.APIKey == "" || auth.APISecret == "" {
		return nil, ErrCredentialsMissing
	}

	params = params.With("timestamp", fmt.Sprintf("%d", c.now().UnixMilli()))
	query := params.Encode()
	query += "&signature=" + Sign(query, auth.APISecret)

	target := endpoint + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, auth.Forwarding.Wrap(target), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set(apiKeyHeader, auth.APIKey)
	req.Header.Set("Content-Type", "application/json")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Raw transport errors are not actionable to an operator;
		// re-label as a connectivity/forwarding problem.
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	return c.classify(resp, auth.Forwarding)
}

// classify turns an HTTP response into a normalized payload or a typed
// error. Most real failures surface here.
func (c *Client) classify(resp *http.Response, fwd Forwarding) (json.RawMessage, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "json") {
		return parseEnvelope(body)
	}

	text := string(body)
	if fwd.Base != "" && strings.Contains(text, activationMarker) {
		return nil, &ForwarderActivationError{
			ActivationURL: strings.TrimRight(fwd.Base, "/") + "/" + activationMarker,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Status: resp.StatusCode, Body: truncate(text, maxErrorBody)}
	}
	// Some forwarders strip the content type; try a manual parse before
	// giving up.
	return parseEnvelope(body)
}

func parseEnvelope(body []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &DecodeError{Body: truncate(string(body), maxErrorBody), Err: err}
	}
	if env.rejected() {
		code := 0
		if env.Code != nil {
			code = *env.Code
		}
		return nil, &ExchangeError{Code: code, Message: env.errMessage()}
	}
	if env.Data != nil {
		return env.Data, nil
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
