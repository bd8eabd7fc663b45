// Package httpmw implements the Request Middleware (spec §4.5): an
// http.Handler wrapper that samples, times, and records inbound HTTP
// requests onto the httpRequests stream, with a rotating pool of
// pre-allocated record structs to limit allocation churn.
//
// Grounded on the teacher's sampler/reservoir ticket-pool pattern
// (sampler/reservoir/flusher.go's fixed `tickets chan struct{}`)
// adapted from a rate-limiting pool into a record-reuse pool.
package httpmw

import (
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/log"
)

// defaultExcludePattern mirrors spec §4.5's default platform-internal
// exclusions, combined into one regex for O(1) matching.
var defaultExcludePattern = regexp.MustCompile(`^/(__browser|sockjs|favicon\.ico|packages/)`)

var (
	hexIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	uuidPattern  = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numericPattern = regexp.MustCompile(`^[0-9]+$`)
	staticExtPattern = regexp.MustCompile(`\.(js|css|png|jpg|jpeg|gif|svg|ico|woff2?|map)$`)
)

// RequestRecord is the shape submitted on the httpRequests stream
// (spec §4.5: "captures {...}").
type RequestRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Method       string    `json:"method"`
	Path         string    `json:"path"`
	Route        string    `json:"route"`
	StatusCode   int       `json:"statusCode"`
	ResponseTime float64   `json:"responseTimeMs"`
	Size         int64     `json:"size"`
	UserID       string    `json:"userId,omitempty"`
	IP           string    `json:"ip,omitempty"`
	UserAgent    string    `json:"userAgent,omitempty"`
	Referrer     string    `json:"referrer,omitempty"`
}

const recordPoolSize = 50

// recordPool rotates recordPoolSize pre-allocated RequestRecords
// circularly; Take returns the next slot for the caller to fill, and
// the caller must copy it out before the slot is reused (spec §4.5
// "Object pool").
type recordPool struct {
	mu   sync.Mutex
	slots [recordPoolSize]RequestRecord
	next int
}

func (p *recordPool) take() *RequestRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	slot := &p.slots[p.next]
	*slot = RequestRecord{}
	p.next = (p.next + 1) % recordPoolSize
	return slot
}

// RouteMatcher optionally supplies the host's own route-matching
// result for a request, taking precedence over regex normalization
// (spec §4.5 "Route normalization": "try the host's route-matcher
// first").
type RouteMatcher func(r *http.Request) (route string, ok bool)

// Options configures the middleware.
type Options struct {
	SampleRate     float64
	ExcludePattern *regexp.Regexp
	RouteMatcher   RouteMatcher
	UserIDFromRequest func(r *http.Request) string
	RandFloat64    func() float64
}

// Middleware wraps an http.Handler, sampling and recording requests
// (spec §4.5).
type Middleware struct {
	next   http.Handler
	client *ingest.Client
	opts   Options
	pool   recordPool
}

// CompileExcludePatterns joins patterns into a single alternation
// regex for Options.ExcludePattern (spec §6 "httpExcludePatterns"). An
// empty or invalid pattern set falls back to defaultExcludePattern
// rather than excluding nothing, since the platform-internal paths it
// covers should never be traced.
func CompileExcludePatterns(patterns []string) *regexp.Regexp {
	if len(patterns) == 0 {
		return defaultExcludePattern
	}
	re, err := regexp.Compile(strings.Join(patterns, "|"))
	if err != nil {
		log.Warnf("httpmw: invalid httpExcludePatterns %v: %v; falling back to defaults", patterns, err)
		return defaultExcludePattern
	}
	return re
}

// Wrap returns an http.Handler that records requests through client
// before delegating to next.
func Wrap(next http.Handler, client *ingest.Client, opts Options) *Middleware {
	if opts.ExcludePattern == nil {
		opts.ExcludePattern = defaultExcludePattern
	}
	if opts.RandFloat64 == nil {
		opts.RandFloat64 = rand.Float64
	}
	return &Middleware{next: next, client: client, opts: opts}
}

func (m *Middleware) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.opts.ExcludePattern.MatchString(r.URL.Path) {
		m.next.ServeHTTP(w, r)
		return
	}
	if m.opts.SampleRate < 1 && m.opts.RandFloat64() >= m.opts.SampleRate {
		m.next.ServeHTTP(w, r)
		return
	}

	start := time.Now()
	rec := &statusCapturingWriter{ResponseWriter: w, status: http.StatusOK}
	m.next.ServeHTTP(rec, r)
	elapsed := time.Since(start)

	slot := m.pool.take()
	slot.Timestamp = start
	slot.Method = r.Method
	slot.Path = r.URL.Path
	slot.Route = m.normalizeRoute(r)
	slot.StatusCode = rec.status
	slot.ResponseTime = float64(elapsed.Microseconds()) / 1000.0
	slot.Size = rec.size
	slot.IP = clientIP(r)
	slot.UserAgent = r.UserAgent()
	slot.Referrer = r.Referer()
	if m.opts.UserIDFromRequest != nil {
		slot.UserID = m.opts.UserIDFromRequest(r)
	}

	// Shallow copy so the pool slot can be safely reused (spec §4.5
	// "Object pool": "on enqueue, a shallow copy is taken").
	copyRec := *slot
	if m.client != nil {
		m.client.Submit(ingest.StreamHTTPRequests, copyRec)
	}
}

// normalizeRoute implements spec §4.5 "Route normalization": the
// host's own matcher first, falling back to regex-based
// normalization, with static-file paths passed through unchanged.
func (m *Middleware) normalizeRoute(r *http.Request) string {
	if m.opts.RouteMatcher != nil {
		if route, ok := m.opts.RouteMatcher(r); ok {
			return route
		}
	}
	if staticExtPattern.MatchString(r.URL.Path) {
		return r.URL.Path
	}
	segments := strings.Split(r.URL.Path, "/")
	for i, seg := range segments {
		switch {
		case hexIDPattern.MatchString(seg):
			segments[i] = ":id"
		case uuidPattern.MatchString(seg):
			segments[i] = ":uuid"
		case seg != "" && numericPattern.MatchString(seg):
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}

// statusCapturingWriter records the response status and byte count so
// they can be included in the emitted record.
type statusCapturingWriter struct {
	http.ResponseWriter
	status int
	size   int64
}

func (w *statusCapturingWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += int64(n)
	return n, err
}
