// Package session implements the Session Wrapper (spec §4.6): it
// intercepts a live WebSocket-like session's inbound/outbound message
// hooks, tracks per-session counters and subscription lifecycle, and
// periodically emits a sessions batch to the Ingestion Client.
//
// Grounded on internal/ring for the ping-latency samples and on the
// explicit-result-type / const-enum style prescribed by DESIGN NOTE
// "Exception-based error returns → explicit result types" for the
// subscription state machine.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/ring"
)

// SubscriptionStatus is the state machine described in spec §4.6.
type SubscriptionStatus string

const (
	SubPending SubscriptionStatus = "pending"
	SubReady   SubscriptionStatus = "ready"
	SubError   SubscriptionStatus = "error"
	SubStopped SubscriptionStatus = "stopped"
)

// Subscription tracks one publication subscription's lifecycle (spec
// §3 SubscriptionState).
type Subscription struct {
	ID              string
	SessionID       string
	PublicationName string
	Params          interface{}
	Status          SubscriptionStatus
	SubscribedAt    time.Time
	ReadyAt         time.Time
	ResponseTime    time.Duration
	StoppedAt       time.Time
	DocumentsAdded  int64
	DocumentsChanged int64
	DocumentsRemoved int64
	DataTransferred int64
	ErrorMessage    string
}

const pingLatencyRingCap = 10

// Session tracks one live connection's counters (spec §3 SessionState).
type Session struct {
	ID               string
	ConnectedAt      time.Time
	DisconnectedAt   time.Time
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	MessageTypeCounts map[string]int64
	LastPingSentAt   time.Time
	AvgLatencyMS     float64

	latencyRing *ring.Ring
	subs        map[string]*Subscription
}

func newSession(id string, now time.Time) *Session {
	return &Session{
		ID:                id,
		ConnectedAt:       now,
		MessageTypeCounts: make(map[string]int64),
		latencyRing:       ring.New(pingLatencyRingCap),
		subs:              make(map[string]*Subscription),
	}
}

const subscriptionGCDelay = 60 * time.Second

// Registry tracks every wrapped session and owns periodic emission.
type Registry struct {
	client *ingest.Client

	mu       sync.Mutex
	sessions map[string]*Session
	wrapped  map[string]bool // sessions already wrapped, to prevent double-wrapping

	stopCh chan struct{}
	once   sync.Once
}

// New returns an empty Registry.
func New(client *ingest.Client) *Registry {
	return &Registry{
		client:   client,
		sessions: make(map[string]*Session),
		wrapped:  make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// WrapOnce registers id as wrapped and returns true the first time it
// is seen; subsequent calls with the same id return false, preventing
// double-wrapping when multiple collectors coexist (spec §4.6
// "Discovery").
func (r *Registry) WrapOnce(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wrapped[id] {
		return false
	}
	r.wrapped[id] = true
	r.sessions[id] = newSession(id, time.Now())
	return true
}

// Close emits a final disconnected record and deletes the session
// entry (spec §4.6 "On session close").
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.DisconnectedAt = time.Now()
	snap := snapshotLocked(s)
	delete(r.sessions, id)
	delete(r.wrapped, id)
	r.mu.Unlock()

	if r.client != nil {
		r.client.Submit(ingest.StreamSessions, snap)
	}
}

// extractMsgType scans for the literal `"msg":"..."` token without
// full deserialization (spec §4.6 "Extracts message type"). Returns
// "" if no such token is found.
func extractMsgType(raw string) string {
	const needle = `"msg":"`
	idx := strings.Index(raw, needle)
	if idx < 0 {
		return ""
	}
	start := idx + len(needle)
	end := strings.IndexByte(raw[start:], '"')
	if end < 0 {
		return ""
	}
	return raw[start : start+end]
}

// estimateSize is the cheap size estimate used instead of full
// deserialization (spec §4.6 "Estimates message size cheaply").
func estimateSize(raw string) int64 {
	return int64(len(raw))
}

// structuredControlFrames are message types that require structured
// parsing beyond the cheap msg-type scan (spec §4.6).
var structuredControlFrames = map[string]bool{
	"ready": true, "nosub": true, "added": true, "changed": true,
	"removed": true, "sub": true, "unsub": true,
}

// ControlFrame carries the structured fields needed to drive the
// subscription state machine for frames that require them.
type ControlFrame struct {
	Msg             string
	SubID           string
	PublicationName string
	Params          interface{}
	ErrorMessage    string
	Collection      string
}

// ProcessInbound handles one inbound message for sessionID (spec
// §4.6 "processMessage"). raw is the wire text (used for the cheap
// msg-type scan and size estimate); frame carries structured fields
// when the message type required full deserialization, and may be
// the zero value otherwise.
func (r *Registry) ProcessInbound(sessionID, raw string, frame ControlFrame) {
	msgType := extractMsgType(raw)
	if msgType == "" {
		msgType = frame.Msg
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.MessagesReceived++
	s.BytesReceived += estimateSize(raw)
	if msgType != "" {
		s.MessageTypeCounts[msgType]++
	}

	if !structuredControlFrames[msgType] && msgType != "pong" {
		return
	}

	switch msgType {
	case "sub":
		s.subs[frame.SubID] = &Subscription{
			ID: frame.SubID, SessionID: sessionID, PublicationName: frame.PublicationName,
			Params: frame.Params, Status: SubPending, SubscribedAt: time.Now(),
		}
	case "ready":
		if sub, ok := s.subs[frame.SubID]; ok && sub.Status == SubPending {
			sub.Status = SubReady
			sub.ReadyAt = time.Now()
			sub.ResponseTime = sub.ReadyAt.Sub(sub.SubscribedAt)
		}
	case "nosub":
		if sub, ok := s.subs[frame.SubID]; ok {
			sub.Status = SubError
			sub.ErrorMessage = frame.ErrorMessage
			if sub.ErrorMessage == "" {
				sub.ErrorMessage = "subscription failed"
			}
		}
	case "unsub":
		if sub, ok := s.subs[frame.SubID]; ok {
			sub.Status = SubStopped
			sub.StoppedAt = time.Now()
		}
	case "added", "changed", "removed":
		if sub, ok := s.subs[frame.SubID]; ok && sub.Status == SubReady {
			switch msgType {
			case "added":
				sub.DocumentsAdded++
			case "changed":
				sub.DocumentsChanged++
			case "removed":
				sub.DocumentsRemoved++
			}
		}
	case "pong":
		if !s.LastPingSentAt.IsZero() {
			latency := time.Since(s.LastPingSentAt)
			latencyMS := float64(latency.Microseconds()) / 1000.0
			s.latencyRing.Add(latencyMS)
			s.AvgLatencyMS = s.latencyRing.Avg()
		}
	}
}

// ProcessOutbound handles one outbound message for sessionID (spec
// §4.6 "send").
func (r *Registry) ProcessOutbound(sessionID, raw string) {
	msgType := extractMsgType(raw)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.MessagesSent++
	s.BytesSent += estimateSize(raw)
	if msgType != "" {
		s.MessageTypeCounts[msgType]++
	}
	if msgType == "ping" {
		s.LastPingSentAt = time.Now()
	}
}

// GCStoppedSubscriptions removes stopped subscriptions 60s past their
// StoppedAt, and errored subscriptions 60s past their ReadyAt (or
// SubscribedAt when they never became ready); the time of the nosub
// itself is not recorded (spec §3 SubscriptionState, §4.6).
func (r *Registry) GCStoppedSubscriptions(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		for id, sub := range s.subs {
			var terminalAt time.Time
			switch sub.Status {
			case SubStopped:
				terminalAt = sub.StoppedAt
			case SubError:
				terminalAt = sub.ReadyAt // nosub typically has no readyAt; fall through below
				if terminalAt.IsZero() {
					terminalAt = sub.SubscribedAt
				}
			default:
				continue
			}
			if !terminalAt.IsZero() && now.Sub(terminalAt) >= subscriptionGCDelay {
				delete(s.subs, id)
			}
		}
	}
}

// sessionSnapshot is the wire shape emitted on the sessions stream.
type sessionSnapshot struct {
	ID                   string           `json:"id"`
	ConnectedAt          time.Time        `json:"connectedAt"`
	DisconnectedAt       *time.Time       `json:"disconnectedAt,omitempty"`
	MessagesSent         int64            `json:"messagesSent"`
	MessagesReceived     int64            `json:"messagesReceived"`
	BytesSent            int64            `json:"bytesSent"`
	BytesReceived        int64            `json:"bytesReceived"`
	MessageTypeCounts    map[string]int64 `json:"messageTypeCounts"`
	ActiveSubscriptionIDs []string        `json:"activeSubscriptionIds"`
	AvgLatencyMS         float64          `json:"avgLatencyMs"`
}

func snapshotLocked(s *Session) sessionSnapshot {
	var disc *time.Time
	if !s.DisconnectedAt.IsZero() {
		d := s.DisconnectedAt
		disc = &d
	}
	active := make([]string, 0, len(s.subs))
	for id, sub := range s.subs {
		if sub.Status == SubPending || sub.Status == SubReady {
			active = append(active, id)
		}
	}
	return sessionSnapshot{
		ID:                    s.ID,
		ConnectedAt:           s.ConnectedAt,
		DisconnectedAt:        disc,
		MessagesSent:          s.MessagesSent,
		MessagesReceived:      s.MessagesReceived,
		BytesSent:             s.BytesSent,
		BytesReceived:         s.BytesReceived,
		MessageTypeCounts:     s.MessageTypeCounts,
		ActiveSubscriptionIDs: active,
		AvgLatencyMS:          s.AvgLatencyMS,
	}
}

// Start begins the periodic all-active-sessions batch emission (spec
// §4.6 "on periodic tick, send a batch of all active sessions").
func (r *Registry) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				r.GCStoppedSubscriptions(now)
				r.emit()
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Registry) emit() {
	r.mu.Lock()
	snaps := make([]sessionSnapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		snaps = append(snaps, snapshotLocked(s))
	}
	r.mu.Unlock()

	if r.client == nil {
		return
	}
	for _, snap := range snaps {
		r.client.Submit(ingest.StreamSessions, snap)
	}
}

// Stop is idempotent.
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stopCh) })
}
