package httpapi

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/park285/checkmate-server/internal/domain"
	"github.com/park285/checkmate-server/internal/faults"
	"github.com/park285/checkmate-server/internal/identity"
)

type contextKey string

const identityKey contextKey = "identity"

func identityFrom(ctx context.Context) domain.Identity {
	ident, _ := ctx.Value(identityKey).(domain.Identity)
	return ident
}

// statusWriter captures the status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Hijack is needed by the websocket upgrade on the watch route.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (a *api) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		a.log.Info("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Int("size", sw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (a *api) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				a.log.Error("panic_recovered",
					zap.Any("error", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				a.writeError(w, r, faults.Faultf("panic", "%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// resolve attaches the caller identity from the credential cookie.
// A bad or stale cookie yields the empty identity, never an error response.
func (a *api) resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var cred string
		if c, err := r.Cookie(identity.CookieName); err == nil {
			cred = c.Value
		}
		ident, err := a.ids.Resolve(r.Context(), cred)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, ident)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *api) setCredential(w http.ResponseWriter, cred string, expires *time.Time) {
	c := &http.Cookie{
		Name:     identity.CookieName,
		Value:    cred,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if expires != nil {
		c.Expires = *expires
	}
	http.SetCookie(w, c)
}

func (a *api) clearCredential(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     identity.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// issueSession sets a cookie for a guest session minted during the request.
func (a *api) issueSession(w http.ResponseWriter, r *http.Request, sess *domain.Session) bool {
	if sess == nil {
		return true
	}
	cred, exp, err := a.ids.Credential(sess, false)
	if err != nil {
		a.writeError(w, r, err)
		return false
	}
	a.setCredential(w, cred, exp)
	return true
}
