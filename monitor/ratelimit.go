package monitor

import (
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	defaultRateLimit = 50 // monitoring requests per second per client
	burstFactor      = 2
	clientIdle       = 5 * time.Minute
)

// throttle caps how fast one client address may poll the monitoring API.
// Every client may send burstFactor seconds' worth of requests at once and
// then one request per 1/rate seconds.
type throttle struct {
	mu      sync.Mutex
	clients map[string]*allowance
	rate    float64
	burst   float64
	now     func() time.Time

	done     chan struct{}
	doneOnce sync.Once
}

// allowance is what a client may still spend, as of seen.
type allowance struct {
	left float64
	seen time.Time
}

// newThrottle allows rate requests per second per client, or
// defaultRateLimit when rate is not positive. Clients silent for
// clientIdle are forgotten every minute until close.
func newThrottle(rate int) *throttle {
	if rate <= 0 {
		rate = defaultRateLimit
	}
	th := &throttle{
		clients: make(map[string]*allowance),
		rate:    float64(rate),
		burst:   float64(rate * burstFactor),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go th.sweepEvery(time.Minute)
	return th
}

// admit spends one request of client's allowance.
func (th *throttle) admit(client string) bool {
	th.mu.Lock()
	defer th.mu.Unlock()

	now := th.now()
	a, ok := th.clients[client]
	if !ok {
		a = &allowance{left: th.burst, seen: now}
		th.clients[client] = a
	}
	a.left = min(th.burst, a.left+now.Sub(a.seen).Seconds()*th.rate)
	a.seen = now
	if a.left < 1 {
		return false
	}
	a.left--
	return true
}

func (th *throttle) sweepEvery(d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-th.done:
			return
		case <-t.C:
			th.sweep()
		}
	}
}

func (th *throttle) sweep() {
	th.mu.Lock()
	defer th.mu.Unlock()
	cutoff := th.now().Add(-clientIdle)
	for client, a := range th.clients {
		if a.seen.Before(cutoff) {
			delete(th.clients, client)
		}
	}
}

func (th *throttle) close() {
	th.doneOnce.Do(func() { close(th.done) })
}

// wrap answers 429 with Retry-After to clients over their allowance.
// /health is never throttled.
func (th *throttle) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" && !th.admit(remoteHost(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMITED")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
