// Package captcha verifies Friendly Captcha solutions for login and signup.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const DefaultEndpoint = "https://api.friendlycaptcha.com/api/v1/siteverify"

// Verdict is the gate decision. Message is shown to the user when set.
type Verdict struct {
	Accept  bool
	Message string
}

// Messages are the user-facing texts of the gate.
type Messages struct {
	Fault   string
	Invalid string
	Expired string
}

var DefaultMessages = Messages{
	Fault:   "Non-critical internal server fault with CAPTCHA validation.",
	Invalid: "Invalid captcha solution.",
	Expired: "Expired captcha solution. Please refresh the page.",
}

type Verifier struct {
	endpoint string
	secret   string
	sitekey  string
	http     *fasthttp.Client
	log      *zap.Logger
	msgs     Messages

	timeout  time.Duration
	retryMax int
}

type Option func(*Verifier)

func WithEndpoint(u string) Option {
	return func(v *Verifier) {
		if strings.TrimSpace(u) != "" {
			v.endpoint = strings.TrimSpace(u)
		}
	}
}

func WithTimeout(d time.Duration) Option { return func(v *Verifier) { v.timeout = d } }
func WithRetry(max int) Option           { return func(v *Verifier) { v.retryMax = max } }
func WithLogger(l *zap.Logger) Option    { return func(v *Verifier) { v.log = l } }
func WithMessages(m Messages) Option     { return func(v *Verifier) { v.msgs = m } }

// New returns a verifier. An empty secret disables the gate.
func New(secret, sitekey string, opts ...Option) *Verifier {
	v := &Verifier{
		endpoint: DefaultEndpoint,
		secret:   strings.TrimSpace(secret),
		sitekey:  strings.TrimSpace(sitekey),
		http:     &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		log:      zap.NewNop(),
		msgs:     DefaultMessages,
		timeout:  10 * time.Second,
		retryMax: 2,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Enabled() bool { return v != nil && v.secret != "" }

type verifyRequest struct {
	Solution string `json:"solution"`
	Secret   string `json:"secret"`
	Sitekey  string `json:"sitekey,omitempty"`
}

type verifyResponse struct {
	Success bool     `json:"success"`
	Errors  []string `json:"errors"`
}

// Verify checks a solution. Problems on our side of the exchange accept the
// request with a notice; only a bad or stale solution rejects it.
func (v *Verifier) Verify(ctx context.Context, solution string) Verdict {
	if !v.Enabled() {
		return Verdict{Accept: true}
	}
	if strings.TrimSpace(solution) == "" {
		return Verdict{Accept: false, Message: v.msgs.Invalid}
	}
	var out verifyResponse
	status, err := v.doJSON(ctx, verifyRequest{Solution: solution, Secret: v.secret, Sitekey: v.sitekey}, &out)
	if err != nil {
		v.log.Warn("captcha_verify_error", zap.Error(err))
		return Verdict{Accept: true, Message: v.msgs.Fault}
	}
	if status != fasthttp.StatusOK {
		v.log.Warn("captcha_verify_status", zap.Int("status", status), zap.Strings("errors", out.Errors))
		return Verdict{Accept: true, Message: v.msgs.Fault}
	}
	if out.Success {
		return Verdict{Accept: true}
	}
	for _, code := range out.Errors {
		switch code {
		case "solution_invalid":
			return Verdict{Accept: false, Message: v.msgs.Invalid}
		case "solution_timeout_or_duplicate":
			return Verdict{Accept: false, Message: v.msgs.Expired}
		}
	}
	// secret_missing, secret_invalid, solution_missing, bad_request
	v.log.Warn("captcha_verify_rejected", zap.Strings("errors", out.Errors))
	return Verdict{Accept: true, Message: v.msgs.Fault}
}

// doJSON posts in and decodes any JSON body into out. Transport errors and
// 5xx answers are retried with backoff.
func (v *Verifier) doJSON(ctx context.Context, in, out any) (int, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()
	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(v.endpoint)
	req.Header.SetContentType("application/json")
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	attempts := v.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := v.http.DoDeadline(req, resp, v.deadline(ctx))
		if err == nil {
			status := resp.StatusCode()
			if shouldRetryStatus(status) && attempt < attempts {
				lastErr = fmt.Errorf("siteverify status=%d", status)
			} else {
				if len(resp.Body()) > 0 {
					if err := json.Unmarshal(resp.Body(), out); err != nil && status == fasthttp.StatusOK {
						return status, fmt.Errorf("decode response: %w", err)
					}
				}
				return status, nil
			}
		} else {
			lastErr = err
			if attempt == attempts {
				return 0, fmt.Errorf("request failed: %w", err)
			}
		}
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return 0, lastErr
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, lastErr
}

func (v *Verifier) deadline(ctx context.Context) time.Time {
	own := time.Now().Add(v.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(own) {
		return dl
	}
	return own
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 5 {
		attempt = 5
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
