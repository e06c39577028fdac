package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gasramp-hq/gasramp/pkg/metrics"
)

// AdmissionGuard enforces a per-client request budget for a route group.
// Intent creation carries a strict budget since every admitted request can
// cost a processor call and a record; status reads get a looser one.
type AdmissionGuard struct {
	route      string
	limit      rate.Limit
	burst      int
	trustProxy bool

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewAdmissionGuard creates a guard allowing maxRequests per window per
// client. trustProxy controls whether forwarding headers identify the client.
func NewAdmissionGuard(route string, window time.Duration, maxRequests int, trustProxy bool) *AdmissionGuard {
	g := &AdmissionGuard{
		route:      route,
		limit:      rate.Every(window / time.Duration(maxRequests)),
		burst:      maxRequests,
		trustProxy: trustProxy,
		clients:    make(map[string]*clientLimiter),
	}
	go g.cleanup()
	return g
}

// Wrap applies the guard to a handler
func (g *AdmissionGuard) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !g.allow(clientIP(r, g.trustProxy)) {
			metrics.RateLimited.WithLabelValues(g.route).Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (g *AdmissionGuard) allow(client string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cl, ok := g.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(g.limit, g.burst)}
		g.clients[client] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// cleanup drops limiters for clients not seen recently
func (g *AdmissionGuard) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		g.mu.Lock()
		for client, cl := range g.clients {
			if time.Since(cl.lastSeen) > 10*time.Minute {
				delete(g.clients, client)
			}
		}
		g.mu.Unlock()
	}
}

// clientIP resolves the caller identity for rate limiting. X-Forwarded-For is
// caller-controlled on a directly exposed listener, so it only counts when the
// deployment declares a trusted fronting proxy; otherwise the peer address is
// the identity.
func clientIP(r *http.Request, trustProxy bool) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); trustProxy && forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// corsMiddleware applies the configured origin allowlist
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.cfg.MetricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.cfg.MetricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
