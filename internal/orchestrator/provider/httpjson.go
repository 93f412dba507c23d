package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/sells-group/target-signal/internal/resilience"
)

const maxResponseBytes = 10 << 20

// HTTPJSON fetches a JSON document and maps gjson paths into the payload.
type HTTPJSON struct {
	url     string
	fields  map[string]string
	headers map[string]string
	http    *http.Client
}

// NewHTTPJSON builds the http_json provider. Options: url (required, may
// contain {param} placeholders), fields (name -> gjson path, required),
// headers (optional).
func NewHTTPJSON(options map[string]any, deps Deps) (Provider, error) {
	rawURL := stringOpt(options, "url")
	if rawURL == "" {
		return nil, eris.New("provider: http_json requires a url")
	}
	fields := stringMapOpt(options, "fields")
	if len(fields) == 0 {
		return nil, eris.New("provider: http_json requires at least one field mapping")
	}
	hc := deps.HTTP
	if hc == nil {
		hc = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPJSON{
		url:     rawURL,
		fields:  fields,
		headers: stringMapOpt(options, "headers"),
		http:    hc,
	}, nil
}

// Kind implements Provider.
func (p *HTTPJSON) Kind() string { return KindHTTPJSON }

// Invoke implements Provider.
func (p *HTTPJSON) Invoke(ctx context.Context, toolID string, params map[string]any) (*Response, error) {
	target, err := expandURL(p.url, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "http_json: build request for %s", toolID)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "http_json: %s request", toolID)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "http_json: %s read body", toolID), resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, resilience.NewQuotaError(
			eris.Errorf("http_json: %s status %d", toolID, resp.StatusCode),
			parseRetryAfter(resp.Header.Get("Retry-After")),
		)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("http_json: %s status %d", toolID, resp.StatusCode),
			resp.StatusCode,
		)
	case resp.StatusCode >= 400:
		return nil, eris.Errorf("http_json: %s status %d: %s", toolID, resp.StatusCode, truncate(string(body), 200))
	}

	if !gjson.ValidBytes(body) {
		return nil, eris.Errorf("http_json: %s returned invalid JSON", toolID)
	}

	payload := make(map[string]any, len(p.fields))
	for name, path := range p.fields {
		r := gjson.GetBytes(body, path)
		if !r.Exists() {
			continue
		}
		payload[name] = r.Value()
	}
	return &Response{Payload: payload}, nil
}

// expandURL substitutes {name} placeholders with path-escaped params.
func expandURL(raw string, params map[string]any) (string, error) {
	pairs := make([]string, 0, len(params)*2)
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(fmt.Sprint(v)))
	}
	out := strings.NewReplacer(pairs...).Replace(raw)
	if i := strings.Index(out, "{"); i >= 0 {
		if j := strings.Index(out[i:], "}"); j > 0 {
			return "", resilience.NewValidationError("params", "missing value for "+out[i:i+j+1])
		}
	}
	return out, nil
}

func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
