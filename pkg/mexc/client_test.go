package mexc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c := NewClient(logger)
	if baseURL != "" {
		c.spotURL = baseURL
		c.futuresURL = baseURL
	}
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func testAuth() Auth {
	return Auth{APIKey: "key-1", APISecret: "secret-1"}
}

func TestPrivateRequestRejectsMissingCredentials(t *testing.T) {
	c := testClient(t, "")
	_, err := c.PrivateRequest(context.Background(), http.MethodGet, "https://example.invalid/x", Auth{}, nil)
	if !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing, got %v", err)
	}

	_, err = c.PrivateRequest(context.Background(), http.MethodGet, "https://example.invalid/x", Auth{APIKey: "k"}, nil)
	if !errors.Is(err, ErrCredentialsMissing) {
		t.Fatalf("expected ErrCredentialsMissing with missing secret, got %v", err)
	}
}

// The query string the server receives must verify against the
// signature it carries: no reordering between signing and dispatch.
func TestPrivateRequestSignsTransmittedBytes(t *testing.T) {
	var gotQuery, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get(apiKeyHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":0,"data":{"ok":true}}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	params := Params{}.With("zeta", "1").With("alpha", "2").With("symbol", "BTC USDT")
	if _, err := c.PrivateRequest(context.Background(), http.MethodGet, server.URL+"/endpoint", testAuth(), params); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if gotKey != "key-1" {
		t.Errorf("API key header = %q", gotKey)
	}

	idx := strings.LastIndex(gotQuery, "&signature=")
	if idx == -1 {
		t.Fatalf("no signature in query %q", gotQuery)
	}
	signed, signature := gotQuery[:idx], gotQuery[idx+len("&signature="):]
	if want := Sign(signed, "secret-1"); signature != want {
		t.Errorf("transmitted query does not verify: got %s want %s", signature, want)
	}

	// Insertion order survives encoding; a sorted encoding would break
	// the signature server-side.
	if !strings.HasPrefix(signed, "zeta=1&alpha=2&symbol=BTC+USDT&timestamp=") {
		t.Errorf("parameter order not preserved: %q", signed)
	}
}

func TestPrivateRequestExchangeRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"code":1002,"msg":"signature verification failed"}`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.PrivateRequest(context.Background(), http.MethodGet, server.URL+"/endpoint", testAuth(), nil)

	var exchErr *ExchangeError
	if !errors.As(err, &exchErr) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if exchErr.Code != 1002 || !strings.Contains(exchErr.Message, "signature verification failed") {
		t.Errorf("exchange message not surfaced verbatim: %+v", exchErr)
	}
}

func TestPrivateRequestForwarderActivationPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><body>Visit /corsdemo to unlock this proxy</body></html>`))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	auth := testAuth()
	auth.Forwarding = Forwarding{Base: server.URL, Style: ForwardPath}
	_, err := c.PrivateRequest(context.Background(), http.MethodGet, "https://exchange.invalid/endpoint", auth, nil)

	var actErr *ForwarderActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected ForwarderActivationError, got %v", err)
	}
	if !strings.Contains(actErr.Error(), "/corsdemo") {
		t.Errorf("activation error not actionable: %v", actErr)
	}
}

func TestPrivateRequestTransportStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(strings.Repeat("upstream error ", 100)))
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	_, err := c.PrivateRequest(context.Background(), http.MethodGet, server.URL+"/endpoint", testAuth(), nil)

	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transErr.Status != http.StatusBadGateway {
		t.Errorf("status = %d", transErr.Status)
	}
	if len(transErr.Body) > maxErrorBody+3 {
		t.Errorf("body not truncated: %d bytes", len(transErr.Body))
	}
}

// Forwarders sometimes strip the content type; a parseable body still
// goes through, garbage surfaces as a decode failure.
func TestPrivateRequestManualParseFallback(t *testing.T) {
	bodies := map[string]bool{
		`{"code":0,"data":[1,2,3]}`: true,
		`<html>not json</html>`:     false,
	}
	for body, wantOK := range bodies {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(body))
		}))
		c := testClient(t, server.URL)
		_, err := c.PrivateRequest(context.Background(), http.MethodGet, server.URL+"/endpoint", testAuth(), nil)
		server.Close()

		if wantOK && err != nil {
			t.Errorf("body %q: unexpected error %v", body, err)
		}
		if !wantOK {
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("body %q: expected DecodeError, got %v", body, err)
			}
		}
	}
}

func TestPrivateRequestConnectivityError(t *testing.T) {
	c := testClient(t, "")
	c.httpClient.Timeout = 200 * time.Millisecond
	_, err := c.PrivateRequest(context.Background(), http.MethodGet, "http://127.0.0.1:1/endpoint", testAuth(), nil)

	var transErr *TransportError
	if !errors.As(err, &transErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(transErr.Error(), "forwarding") {
		t.Errorf("transport error not re-labeled for the operator: %v", transErr)
	}
}

func TestForwardingWrap(t *testing.T) {
	target := "https://api.example.com/path?a=1&b=2"

	none := Forwarding{}
	if got := none.Wrap(target); got != target {
		t.Errorf("zero forwarding changed target: %s", got)
	}

	query := Forwarding{Base: "https://relay.example.com/get", Style: ForwardQuery}
	if got := query.Wrap(target); got != "https://relay.example.com/get?url="+url.QueryEscape(target) {
		t.Errorf("query style wrap = %s", got)
	}

	path := Forwarding{Base: "https://relay.example.com/", Style: ForwardPath}
	if got := path.Wrap(target); got != "https://relay.example.com/"+target {
		t.Errorf("path style wrap = %s", got)
	}
}

func TestParamsEncodePreservesOrder(t *testing.T) {
	p := Params{}.With("b", "2").With("a", "1").With("c", "3 3")
	if got := p.Encode(); got != "b=2&a=1&c=3+3" {
		t.Errorf("Encode() = %q", got)
	}
}
