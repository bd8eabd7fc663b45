package supervisor

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skysignal-apm/agent-go/config"
	"github.com/skysignal-apm/agent-go/internal/ingest"
)

func newTestSupervisor(t *testing.T, conf *config.Config) *Supervisor {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	client := ingest.New(ingest.Options{APIKey: "k", BaseURL: srv.URL})

	return New(conf, client, nil)
}

func fullConfig() *config.Config {
	c := config.Defaults()
	c.APIKey = "k"
	return c
}

func TestNewWiresEveryEnabledCollector(t *testing.T) {
	s := newTestSupervisor(t, fullConfig())
	assert.NotNil(t, s.PoolObserver)
	assert.NotNil(t, s.LiveQueries)
	assert.NotNil(t, s.Sessions)
	assert.NotNil(t, s.SysSampler)
	assert.NotNil(t, s.HTTPMW)
	assert.Len(t, s.components, 4) // pool, livequeries, sessions, syssampler (jobs off by default)
}

func TestDisabledCollectorsAreNotWired(t *testing.T) {
	conf := config.Defaults()
	conf.APIKey = "k"
	conf.CollectMongoPool = false
	conf.CollectLiveQueries = false
	conf.CollectSessions = false
	conf.CollectSystemMetrics = false
	conf.CollectHTTPRequests = false

	s := newTestSupervisor(t, conf)
	assert.Nil(t, s.PoolObserver)
	assert.Nil(t, s.LiveQueries)
	assert.Nil(t, s.Sessions)
	assert.Nil(t, s.SysSampler)
	assert.Nil(t, s.HTTPMW)
	assert.Empty(t, s.components)
}

func TestStartAndStopDoNotPanic(t *testing.T) {
	s := newTestSupervisor(t, fullConfig())
	assert.NotPanics(t, func() {
		s.Start()
		time.Sleep(5 * time.Millisecond)
		s.Stop()
	})
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestSupervisor(t, fullConfig())
	s.Start()
	assert.NotPanics(t, func() {
		s.Stop()
		s.Stop()
	})
}

func TestCheckMemoryDisablesCollectorsOverThreshold(t *testing.T) {
	conf := fullConfig()
	conf.MaxMemoryMB = 0.000001 // guaranteed to be exceeded immediately
	s := newTestSupervisor(t, conf)

	s.checkMemory()
	assert.True(t, s.Disabled())
}

func TestCheckMemoryNoopWhenUnset(t *testing.T) {
	conf := fullConfig()
	conf.MaxMemoryMB = 0
	s := newTestSupervisor(t, conf)

	s.checkMemory()
	assert.False(t, s.Disabled())
}
