package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"locallift/internal/identity"

	"github.com/go-chi/chi/v5/middleware"
)

// Authenticator resolves the signed-in user of a request.
type Authenticator interface {
	FromRequest(r *http.Request) (identity.User, error)
}

// RateCounter counts requests in fixed windows.
type RateCounter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

const rateWindow = time.Minute

func (s *Server) loggingRecoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}
				s.logger.Error("panic recovered",
					append(logAttrs(r), "panic", fmt.Sprint(rvr), "stack", string(debug.Stack()))...)
				if r.Header.Get("Connection") != "Upgrade" {
					respondError(w, http.StatusInternalServerError, errors.New("internal server error"))
				}
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info("request",
				append(logAttrs(r), "status", ww.Status(), "duration", time.Since(start))...)
		}()
		next.ServeHTTP(ww, r)
	})
}

// requireUser rejects requests without a valid session.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.FromRequest(r)
		if err != nil {
			if !errors.Is(err, identity.ErrNoCredentials) {
				s.logger.Debug("session rejected", append(logAttrs(r), "error", err)...)
			}
			respondJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
	})
}

// optionalUser attaches the user when a valid session is present and lets
// anonymous requests through.
func (s *Server) optionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := s.auth.FromRequest(r); err == nil {
			r = r.WithContext(identity.WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit caps requests per caller per minute. Callers are keyed by user
// id when signed in and by client address otherwise. Counter failures let
// the request through.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || s.cfg.RateLimitPerMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		limit := s.cfg.RateLimitPerMinute

		caller := "ip:" + clientHost(r.RemoteAddr)
		if user, ok := identity.FromContext(r.Context()); ok {
			caller = "user:" + user.ID
		}
		window := time.Now().Unix() / int64(rateWindow.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%d", caller, window)

		count, err := s.limiter.IncrWithExpire(r.Context(), key, rateWindow)
		if err != nil {
			s.logger.Warn("rate limit counter failed", append(logAttrs(r), "error", err)...)
			next.ServeHTTP(w, r)
			return
		}

		remaining := max(0, limit-int(count))
		reset := (window + 1) * int64(rateWindow.Seconds())
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))

		if int(count) > limit {
			retryAfter := max(1, reset-time.Now().Unix())
			w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientHost drops the source port so every connection from one address
// shares a window.
func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}

// currentUser is only valid behind requireUser.
func currentUser(r *http.Request) identity.User {
	user, _ := identity.FromContext(r.Context())
	return user
}

// userID is empty for anonymous requests.
func userID(r *http.Request) string {
	return currentUser(r).ID
}
