package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func siteverify(t *testing.T, status int, body string, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Secret != "s3cret" || req.Sitekey != "site" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDisabledAcceptsEverything(t *testing.T) {
	v := New("", "")
	assert.False(t, v.Enabled())
	assert.Equal(t, Verdict{Accept: true}, v.Verify(context.Background(), ""))
}

func TestVerdicts(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Verdict
	}{
		{"success", 200, `{"success":true}`, Verdict{Accept: true}},
		{"invalid", 200, `{"success":false,"errors":["solution_invalid"]}`, Verdict{Accept: false, Message: DefaultMessages.Invalid}},
		{"expired", 200, `{"success":false,"errors":["solution_timeout_or_duplicate"]}`, Verdict{Accept: false, Message: DefaultMessages.Expired}},
		{"our secret", 200, `{"success":false,"errors":["secret_invalid"]}`, Verdict{Accept: true, Message: DefaultMessages.Fault}},
		{"bad request", 400, `{"success":false,"errors":["bad_request"]}`, Verdict{Accept: true, Message: DefaultMessages.Fault}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := siteverify(t, tt.status, tt.body, nil)
			v := New("s3cret", "site", WithEndpoint(srv.URL), WithRetry(1))
			assert.Equal(t, tt.want, v.Verify(context.Background(), "solution"))
		})
	}
}

func TestEmptySolutionRejectedWithoutCall(t *testing.T) {
	var hits int32
	srv := siteverify(t, 200, `{"success":true}`, &hits)
	v := New("s3cret", "site", WithEndpoint(srv.URL))
	got := v.Verify(context.Background(), "  ")
	assert.False(t, got.Accept)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestServerErrorRetriesThenAccepts(t *testing.T) {
	var hits int32
	srv := siteverify(t, 503, `oops`, &hits)
	v := New("s3cret", "site", WithEndpoint(srv.URL), WithRetry(2))
	got := v.Verify(context.Background(), "solution")
	require.True(t, got.Accept)
	assert.Equal(t, DefaultMessages.Fault, got.Message)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}
