// Command skysignal-demo is a minimal host application wiring
// example, standing in for the retrieval pack's missing
// cmd/trace-agent/main.go (only agent.go/sampler.go were retrieved
// from the teacher). It shows how a Meteor-style host would embed the
// agent: build a Config, start it, wrap an HTTP mux with the request
// middleware, and shut down cleanly on signal.
package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/cihub/seelog"

	agentgo "github.com/skysignal-apm/agent-go"
	"github.com/skysignal-apm/agent-go/config"
)

func main() {
	var (
		apiKey     = flag.String("api-key", os.Getenv("SKYSIGNAL_API_KEY"), "SkySignal API key")
		endpoint   = flag.String("endpoint", "", "override the ingestion endpoint")
		debug      = flag.Bool("debug", false, "enable debug logging")
		listenAddr = flag.String("listen", ":8080", "HTTP listen address")
		configFile = flag.String("config", "", "optional YAML config file")
	)
	flag.Parse()

	conf := config.Defaults()
	conf.APIKey = *apiKey
	conf.Debug = *debug
	if *endpoint != "" {
		conf.Endpoint = *endpoint
	}

	if *configFile != "" {
		yc, err := config.LoadYaml(*configFile)
		if err != nil {
			log.Errorf("failed to load config file %s: %v", *configFile, err)
			os.Exit(1)
		}
		conf.Merge(yc)
	}

	agent, err := agentgo.New(conf, nil)
	if err != nil {
		log.Errorf("refusing to start: %v", err)
		os.Exit(1)
	}

	agent.Start()
	defer agent.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/widgets/", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	})

	handler := agent.HTTPMiddleware(mux)
	server := &http.Server{Addr: *listenAddr, Handler: handler}

	go func() {
		log.Infof("listening on %s", *listenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	server.Close()
	log.Flush()
}
