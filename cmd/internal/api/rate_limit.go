package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// createThrottle is a per-IP fixed-window counter for resource creation.
// It is process-local, like the socket send limiter.
type createThrottle struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string]*throttleWindow
}

type throttleWindow struct {
	start time.Time
	count int
}

func newCreateThrottle(max int, window time.Duration) *createThrottle {
	if max <= 0 {
		return nil
	}
	if window <= 0 {
		window = time.Minute
	}
	return &createThrottle{max: max, window: window, hits: make(map[string]*throttleWindow)}
}

// allow records one attempt for ip at now and reports whether it is within the limit.
// When blocked, retryAfter is the time until the window resets.
func (t *createThrottle) allow(ip net.IP, now time.Time) (ok bool, retryAfter time.Duration) {
	if t == nil || ip == nil {
		return true, 0
	}
	key := ip.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	w, exists := t.hits[key]
	if !exists || now.Sub(w.start) >= t.window {
		// Opportunistic cleanup keeps the map bounded by active clients.
		if len(t.hits) > 4096 {
			for k, v := range t.hits {
				if now.Sub(v.start) >= t.window {
					delete(t.hits, k)
				}
			}
		}
		t.hits[key] = &throttleWindow{start: now, count: 1}
		return true, 0
	}

	if w.count >= t.max {
		return false, t.window - now.Sub(w.start)
	}
	w.count++
	return true, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
