// Package wsassistant implements the REST call path and the reconnecting
// WebSocket session shared by every order-book and user-stream tracker.
// RESTAssistant wraps a throttler.Throttler and an auth.Signer the way a
// venue connector composes them internally; WSAssistant uses neither.
// Neither knows about any specific venue's wire format.
package wsassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"connectorcore/internal/auth"
	"connectorcore/internal/throttler"
	"connectorcore/internal/timesync"
	"connectorcore/pkg/types"
)

// CallParams describes one REST call: method, URL, query/body, whether it
// must be signed, a timeout, and the throttler limit_id that gates it.
type CallParams struct {
	Method        string
	Path          string
	Query         map[string]string
	Body          any
	Authenticated bool
	Timeout       time.Duration
	LimitID       string
	Weight        int // what this call consumes from LimitID's window; 0 means 1
}

// CallError is raised when the HTTP status is outside {200, 201} or the
// decoded body carries a venue error flag. Body is the raw response, so a
// caller that unwraps the error can still parse venue-specific fields out
// of it; Call has no option to return the body in place of the error.
type CallError struct {
	Status int
	Body   []byte
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call failed: status %d: %s", e.Status, string(e.Body))
}

// ErrorFlagChecker inspects a decoded response body for a venue-specific
// failure flag even when the HTTP status itself was 200/201 (e.g.
// `ret_code != 0`, `status == "FAILURE"`). Returning a non-nil error turns
// the call into a CallError-wrapping failure.
type ErrorFlagChecker func(body []byte) error

// RESTAssistant executes calls through the throttler and, when required,
// the signer — never retrying on its own; retry is the caller's policy
// decision.
type RESTAssistant struct {
	http      *resty.Client
	throttler *throttler.Throttler
	signer    auth.Signer
	clock     *timesync.Synchronizer
	errFlag   ErrorFlagChecker
	logger    *slog.Logger
}

// New creates a RESTAssistant. signer and errFlag may be nil: a nil signer
// means Authenticated calls will fail loudly instead of being silently
// sent unsigned; a nil errFlag skips the venue-flag check.
func New(baseURL string, timeout time.Duration, th *throttler.Throttler, signer auth.Signer, clock *timesync.Synchronizer, errFlag ErrorFlagChecker, logger *slog.Logger) *RESTAssistant {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &RESTAssistant{
		http:      httpClient,
		throttler: th,
		signer:    signer,
		clock:     clock,
		errFlag:   errFlag,
		logger:    logger.With("component", "rest_assistant"),
	}
}

// Call executes a single REST request and decodes the JSON response into
// out (which may be nil to discard the body).
func (a *RESTAssistant) Call(ctx context.Context, params CallParams, out any) error {
	if params.LimitID != "" {
		weight := params.Weight
		if weight <= 0 {
			weight = 1
		}
		rl := types.NewRateLimit(params.LimitID, weight, time.Second)
		rl.Weight = weight
		if err := a.throttler.ExecuteTask(ctx, rl); err != nil {
			return fmt.Errorf("throttle %s: %w", params.LimitID, err)
		}
	}

	var bodyBytes []byte
	if params.Body != nil {
		b, err := json.Marshal(params.Body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyBytes = b
	}

	headers := map[string]string{}
	if params.Authenticated {
		if a.signer == nil {
			return fmt.Errorf("authenticated call requires a signer, none configured")
		}
		req := &auth.Request{
			Method:  params.Method,
			Path:    params.Path,
			Body:    string(bodyBytes),
			Headers: headers,
		}
		ts := time.Now()
		if a.clock != nil {
			ts = a.clock.Time()
		}
		if err := a.signer.Sign(req, ts); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		headers = req.Headers
	}

	req := a.http.R().SetContext(ctx).SetHeaders(headers)
	if params.Timeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, params.Timeout)
		defer cancel()
		req.SetContext(timeoutCtx)
	}
	for k, v := range params.Query {
		req.SetQueryParam(k, v)
	}
	if bodyBytes != nil {
		req.SetBody(bodyBytes)
	}

	resp, err := req.Execute(params.Method, params.Path)
	if err != nil {
		return fmt.Errorf("execute %s %s: %w", params.Method, params.Path, err)
	}

	status := resp.StatusCode()
	if status != 200 && status != 201 {
		return &CallError{Status: status, Body: resp.Body()}
	}

	if a.errFlag != nil {
		if err := a.errFlag(resp.Body()); err != nil {
			return fmt.Errorf("%w: %w", err, &CallError{Status: status, Body: resp.Body()})
		}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
