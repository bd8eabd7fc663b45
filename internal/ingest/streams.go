package ingest

// Stream identifies one of the ~24 named telemetry streams the
// ingestion client accepts items on (spec §4.1, §6).
type Stream string

const (
	StreamTraces           Stream = "traces"
	StreamSystemMetrics    Stream = "systemMetrics"
	StreamHTTPRequests     Stream = "httpRequests"
	StreamErrors           Stream = "errors"
	StreamLogs             Stream = "logs"
	StreamRUM              Stream = "rum"
	StreamDDPConnections   Stream = "ddpConnections"
	StreamSubscriptions    Stream = "subscriptions"
	StreamLiveQueries      Stream = "liveQueries"
	StreamMongoPoolMetrics Stream = "mongoPoolMetrics"
	StreamCollectionStats  Stream = "collectionStats"
	StreamDNSMetrics       Stream = "dnsMetrics"
	StreamOutboundHTTP     Stream = "outboundHttp"
	StreamCPUProfiles      Stream = "cpuProfiles"
	StreamDeprecatedAPIs   Stream = "deprecatedApis"
	StreamPublications     Stream = "publications"
	StreamEnvironment      Stream = "environment"
	StreamVulnerabilities  Stream = "vulnerabilities"
	StreamCustomMetrics    Stream = "customMetrics"
	StreamSessions         Stream = "sessions"
	StreamSecurityEvents   Stream = "securityEvents"
	StreamJobs             Stream = "jobs"
	StreamAlerts           Stream = "alerts"
	StreamDependencies     Stream = "dependencies"
)

// streamRoute describes where a stream's batches are POSTed and the
// JSON envelope key its items are wrapped in.
type streamRoute struct {
	endpoint   string
	payloadKey string
}

// explicitRoutes is the fixed endpoint/payload-key table from spec §6.
var explicitRoutes = map[Stream]streamRoute{
	StreamTraces:         {"/api/v1/traces", "traces"},
	StreamSystemMetrics:  {"/api/v1/metrics/system", "metrics"},
	StreamHTTPRequests:   {"/api/v1/metrics/http", "requests"},
	StreamErrors:         {"/api/v1/errors", "errors"},
	StreamLogs:           {"/api/v1/logs", "logs"},
	StreamRUM:            {"/api/v1/rum", "measurements"},
	StreamDDPConnections: {"/api/v1/ddp-connections", "connections"},
	StreamSubscriptions:  {"/api/v1/subscriptions", "subscriptions"},
	StreamLiveQueries:    {"/api/v1/live-queries", "liveQueries"},
	StreamCollectionStats: {"/api/v1/metrics/collection-stats", "stats"},
	StreamCPUProfiles:    {"/api/v1/metrics/cpu-profile", "profiles"},
	StreamPublications:   {"/api/v1/metrics/publications", "publications"},
}

// knownStreams is the full set of stream names the agent recognizes,
// including those without an explicit route (they fall back to
// /api/v1/metrics/<kind> with payload key "data" per §6's "(others)"
// row). A stream name outside this set entirely is treated as
// genuinely unknown and falls back to the traces endpoint (§4.1),
// which keeps the ingestion surface forward-compatible with stream
// kinds added by newer host versions this build doesn't know about.
var knownStreams = map[Stream]bool{
	StreamTraces: true, StreamSystemMetrics: true, StreamHTTPRequests: true,
	StreamErrors: true, StreamLogs: true, StreamRUM: true,
	StreamDDPConnections: true, StreamSubscriptions: true, StreamLiveQueries: true,
	StreamMongoPoolMetrics: true, StreamCollectionStats: true, StreamDNSMetrics: true,
	StreamOutboundHTTP: true, StreamCPUProfiles: true, StreamDeprecatedAPIs: true,
	StreamPublications: true, StreamEnvironment: true, StreamVulnerabilities: true,
	StreamCustomMetrics: true, StreamSessions: true, StreamSecurityEvents: true,
	StreamJobs: true, StreamAlerts: true, StreamDependencies: true,
}

// sampledStreams are the only two streams subject to submission-time
// sampling (§4.1); all others are always accepted.
var sampledStreams = map[Stream]bool{
	StreamTraces: true,
	StreamRUM:    true,
}

// routeFor resolves a stream to its endpoint path and payload key,
// applying the two-tier fallback described above.
func routeFor(s Stream) streamRoute {
	if r, ok := explicitRoutes[s]; ok {
		return r
	}
	if knownStreams[s] {
		return streamRoute{"/api/v1/metrics/" + string(s), "data"}
	}
	return streamRoute{explicitRoutes[StreamTraces].endpoint, "data"}
}
