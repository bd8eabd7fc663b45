// Package tracer implements the Method Tracer (spec §4.2): it wraps
// one host-method invocation per Trace, records nested Operations
// through a context-propagated TraceContext, and on exit seals the
// Trace, runs N+1 and unblock-impact analysis, and submits it to the
// Ingestion Client's traces stream exactly once.
//
// Grounded on the teacher's model package (model/normalizer.go): a
// flat struct carrying every variant's fields with validation and
// defensive clamping, rather than a closed sum type — mirrored here
// in Operation, which carries every Kind's fields with `omitempty`.
package tracer

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/skysignal-apm/agent-go/internal/ingest"
	"github.com/skysignal-apm/agent-go/internal/log"
)

// OperationKind tags which fields of an Operation are meaningful,
// standing in for the source's tagged variants (db/wait/compute/async).
type OperationKind string

const (
	OpDB      OperationKind = "db"
	OpWait    OperationKind = "wait"
	OpCompute OperationKind = "compute"
	OpAsync   OperationKind = "async"
)

// Operation is one observable sub-step within a Trace (spec §3).
type Operation struct {
	Kind       OperationKind `json:"kind"`
	Offset     time.Duration `json:"offsetMs"`
	Duration   time.Duration `json:"durationMs"`
	Label      string        `json:"label,omitempty"`
	Error      string        `json:"error,omitempty"`

	// db-only
	Collection     string          `json:"collection,omitempty"`
	DBOperation    string          `json:"operation,omitempty"`
	Selector       interface{}     `json:"selector,omitempty"`
	ExplainPlan    interface{}     `json:"explainPlan,omitempty"`
	SlowQuery      *SlowQueryAnalysis `json:"slowQuery,omitempty"`
	Arguments      interface{}     `json:"arguments,omitempty"`
}

// QueryFingerprint is a per-Trace aggregate keyed by
// "<collection>.<operation>::<normalized selector>" (spec §3).
type QueryFingerprint struct {
	Key          string      `json:"key"`
	Collection   string      `json:"collection"`
	Operation    string      `json:"operation"`
	Count        int         `json:"count"`
	TotalDuration time.Duration `json:"totalDurationMs"`
	Samples      []Operation `json:"samples"`
}

// NPlusOnePattern is one detected repetition emitted at seal time
// (spec §4.2 "N+1 analysis").
type NPlusOnePattern struct {
	Collection    string        `json:"collection"`
	Operation     string        `json:"operation"`
	Count         int           `json:"count"`
	TotalDuration time.Duration `json:"totalDurationMs"`
	Samples       []Operation   `json:"samples"`
	Suggestion    string        `json:"suggestion"`
}

// Outcome is the terminal disposition of a traced method call.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// Trace is a record of one host-method invocation (spec §3). It is
// built once from a sealed TraceContext and never mutated afterward.
type Trace struct {
	TraceID       string             `json:"traceId"`
	Method        string             `json:"method"`
	StartTime     time.Time          `json:"startTime"`
	Duration      time.Duration      `json:"durationMs"`
	UserID        string             `json:"userId,omitempty"`
	SessionID     string             `json:"sessionId,omitempty"`
	Outcome       Outcome            `json:"outcome"`
	ErrorSummary  string             `json:"errorSummary,omitempty"`
	Operations    []Operation        `json:"operations"`
	SlowQueries   []SlowQueryAnalysis `json:"slowQueries,omitempty"`
	NPlusOne      []NPlusOnePattern  `json:"nPlusOnePatterns,omitempty"`
	Unblock       *UnblockImpact     `json:"unblockImpact,omitempty"`
	AppVersion    string             `json:"appVersion,omitempty"`
	BuildHash     string             `json:"buildHash,omitempty"`
}

// Tracer owns the TraceContext lifecycle and submission to the
// ingestion client. One Tracer is shared by every wrapped host method.
type Tracer struct {
	client     *ingest.Client
	appVersion string
	buildHash  string

	maxQueryFingerprints int
	maxQueryOperations   int
	slowQueryThreshold   time.Duration
	maxArgLength         int

	callStack *callStackTracker
}

// New returns a Tracer that submits sealed Traces to client.
// maxArgLength bounds DefaultSanitizer's string truncation for method
// arguments (spec §6 "maxArgLength"); a value <= 0 falls back to
// DefaultSanitizer's own default.
func New(client *ingest.Client, appVersion, buildHash string, maxArgLength int) *Tracer {
	return &Tracer{
		client:               client,
		appVersion:           appVersion,
		buildHash:            buildHash,
		maxQueryFingerprints: 100,
		maxQueryOperations:   500,
		slowQueryThreshold:   time.Second,
		maxArgLength:         maxArgLength,
		callStack:            newCallStackTracker(5 * time.Minute),
	}
}

// Begin creates a new TraceContext for methodName and installs it
// into ctx (spec §4.2 "Context propagation"). The returned context
// must be threaded through every suspension point of the host method;
// nested asynchronous work started from it observes the same context.
func (t *Tracer) Begin(ctx context.Context, methodName, userID, sessionID string) context.Context {
	tc := &TraceContext{
		traceID:              uuid.NewString(),
		methodName:           methodName,
		userID:               userID,
		sessionID:            sessionID,
		startTime:            time.Now(),
		queryFingerprints:    make(map[string]*QueryFingerprint),
		maxQueryFingerprints: t.maxQueryFingerprints,
		maxQueryOperations:   t.maxQueryOperations,
		slowQueryThreshold:   t.slowQueryThreshold,
		maxArgLength:         t.maxArgLength,
	}
	t.callStack.push(methodName, tc.startTime)
	return withTraceContext(ctx, tc)
}

// End seals the TraceContext carried by ctx, builds the Trace, runs
// N+1 and unblock-impact analysis (slow queries were already analysed
// by TrackDBOperation), and submits exactly once to the
// traces stream (spec §4.2 "On exit"). callErr is the host method's
// own error, if any; it never propagates from End — the agent must
// not affect host control flow.
func (t *Tracer) End(ctx context.Context, callErr error) {
	tc, ok := fromContext(ctx)
	if !ok {
		log.Debugf("tracer: End called without an active TraceContext")
		return
	}
	tc.mu.Lock()
	if tc.sealed {
		tc.mu.Unlock()
		log.Debugf("tracer: TraceContext for %s sealed twice, ignoring", tc.methodName)
		return
	}
	tc.sealed = true
	duration := time.Since(tc.startTime)
	operations := make([]Operation, len(tc.operations))
	copy(operations, tc.operations)
	fingerprints := make([]*QueryFingerprint, 0, len(tc.queryFingerprints))
	for _, fp := range tc.queryFingerprints {
		fingerprints = append(fingerprints, fp)
	}
	slowQueries := make([]SlowQueryAnalysis, len(tc.slowQueries))
	copy(slowQueries, tc.slowQueries)
	unblockCalled := tc.unblockCalled
	unblockOffset := tc.unblockOffset
	waitedOnByOther := tc.waitedOnByOther
	tc.mu.Unlock()

	outcome := OutcomeOK
	errSummary := ""
	if callErr != nil {
		outcome = OutcomeError
		errSummary = callErr.Error()
	}

	blockingTime := duration
	if unblockCalled {
		blockingTime = unblockOffset
	}

	trace := &Trace{
		TraceID:      tc.traceID,
		Method:       tc.methodName,
		StartTime:    tc.startTime,
		Duration:     duration,
		UserID:       tc.userID,
		SessionID:    tc.sessionID,
		Outcome:      outcome,
		ErrorSummary: errSummary,
		Operations:   operations,
		SlowQueries:  slowQueries,
		NPlusOne:     detectNPlusOne(fingerprints),
		Unblock:      ScoreUnblockImpact(unblockCalled, blockingTime, duration, waitedOnByOther),
		AppVersion:   t.appVersion,
		BuildHash:    t.buildHash,
	}

	if t.client != nil {
		t.client.Submit(ingest.StreamTraces, trace)
	}
}

// TrackAsyncFunction runs fn, recording it as an async operation
// whose duration spans the call; on error it records the error on
// the operation and re-raises it unchanged (spec §4.2 "Operation
// recording": trackAsyncFunction).
func TrackAsyncFunction(ctx context.Context, label string, fn func() (interface{}, error)) (interface{}, error) {
	start := time.Now()
	val, err := fn()
	op := Operation{
		Kind:     OpAsync,
		Label:    label,
		Duration: time.Since(start),
	}
	if err != nil {
		op.Error = err.Error()
	}
	AddOperation(ctx, op)
	return val, err
}

// detectNPlusOne implements spec §4.2 "N+1 analysis (on seal)":
// fingerprints with count≥5 and totalDuration≥2ms each produce one
// pattern record, sorted by descending totalDuration.
func detectNPlusOne(fingerprints []*QueryFingerprint) []NPlusOnePattern {
	var patterns []NPlusOnePattern
	for _, fp := range fingerprints {
		if fp.Count < 5 || fp.TotalDuration < 2*time.Millisecond {
			continue
		}
		patterns = append(patterns, NPlusOnePattern{
			Collection:    fp.Collection,
			Operation:     fp.Operation,
			Count:         fp.Count,
			TotalDuration: fp.TotalDuration,
			Samples:       fp.Samples,
			Suggestion:    nPlusOneSuggestion(fp.Operation),
		})
	}
	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].TotalDuration > patterns[j].TotalDuration
	})
	return patterns
}

func nPlusOneSuggestion(operation string) string {
	switch operation {
	case "findOne", "findOneAsync":
		return "use $in to batch these lookups into a single findOne"
	case "find":
		return "use a $lookup aggregation to join instead of querying per-iteration"
	case "update", "remove":
		return "batch the operation instead of issuing it once per item"
	default:
		return "consolidate these operations with a single aggregation"
	}
}
