package agentgo

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysignal-apm/agent-go/config"
)

func testConfig(endpoint string) *config.Config {
	c := config.Defaults()
	c.APIKey = "test-key"
	c.Endpoint = endpoint
	return c
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	conf := config.Defaults()
	conf.TraceSampleRate = 2.0 // out of [0,1]
	conf.APIKey = "k"

	a, err := New(conf, nil)
	assert.Error(t, err)
	assert.Nil(t, a)
}

func TestNewDisabledAgentIsNoop(t *testing.T) {
	conf := config.Defaults()
	conf.Enabled = false

	a, err := New(conf, nil)
	require.NoError(t, err)
	require.NotNil(t, a)

	assert.Nil(t, a.Tracer())
	assert.Nil(t, a.PoolObserver())
	assert.NotPanics(t, func() {
		a.Start()
		a.Stop()
	})
}

func TestNewEnabledAgentWiresEverything(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)
	require.NotNil(t, a.Tracer())
	assert.NotNil(t, a.PoolObserver())
	assert.NotNil(t, a.LiveQueries())
	assert.NotNil(t, a.Sessions())
	assert.NotNil(t, a.SysSampler())

	assert.NotPanics(t, func() {
		a.Start()
		a.Stop()
	})
}

func TestHTTPMiddlewareWrapsWhenEnabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(testConfig(srv.URL), nil)
	require.NoError(t, err)

	var innerCalled bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusOK)
	})
	wrapped := a.HTTPMiddleware(inner)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/widgets/123", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.True(t, innerCalled)
}

func TestHTTPMiddlewarePassthroughWhenDisabled(t *testing.T) {
	conf := config.Defaults()
	conf.APIKey = "k"
	conf.CollectHTTPRequests = false

	a, err := New(conf, nil)
	require.NoError(t, err)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	wrapped := a.HTTPMiddleware(inner)
	assert.NotNil(t, wrapped)
}
