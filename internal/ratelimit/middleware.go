package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/httpjson"
)

var botPatterns = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python-requests",
	"postman",
	"insomnia",
	"httpie",
	"go-http-client",
	"java/",
	"apache-httpclient",
	"okhttp",
}

// Known crawlers and link unfurlers are let through.
var allowedAgents = []string{
	"googlebot",
	"bingbot",
	"slurp",
	"duckduckbot",
	"baiduspider",
	"yandexbot",
	"facebookexternalhit",
	"twitterbot",
	"rogerbot",
	"linkedinbot",
	"embedly",
	"quora link preview",
	"showyoubot",
	"outbrain",
	"pinterest",
	"slackbot",
	"vkshare",
	"w3c_validator",
}

// IsBot reports whether a user agent looks scripted. An empty agent counts
// as a bot.
func IsBot(userAgent string) bool {
	if userAgent == "" {
		return true
	}
	ua := strings.ToLower(userAgent)
	for _, agent := range allowedAgents {
		if strings.Contains(ua, agent) {
			return false
		}
	}
	for _, pattern := range botPatterns {
		if strings.Contains(ua, pattern) {
			return true
		}
	}
	return false
}

// ClientIP picks the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

type Limiter struct {
	counter Counter
	max     int64
	logger  *logrus.Logger
}

func NewLimiter(counter Counter, maxRequests int, logger *logrus.Logger) *Limiter {
	return &Limiter{counter: counter, max: int64(maxRequests), logger: logger}
}

// Middleware blocks bots with 403 and clients over budget with 429. When
// the counter is unreachable requests are let through.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsBot(r.UserAgent()) {
			l.logger.WithFields(logrus.Fields{
				"user_agent": r.UserAgent(),
				"path":       r.URL.Path,
			}).Debug("Blocked bot request")
			httpjson.RespondWithError(w, http.StatusForbidden, "Forbidden")
			return
		}

		ip := ClientIP(r)
		count, err := l.counter.Increment(r.Context(), ip)
		if err != nil {
			l.logger.WithError(err).Warn("Rate limit counter unavailable, allowing request")
			next.ServeHTTP(w, r)
			return
		}
		if count > l.max {
			l.logger.WithFields(logrus.Fields{
				"client_ip": ip,
				"count":     count,
			}).Info("Rate limit exceeded")
			httpjson.RespondWithError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}
