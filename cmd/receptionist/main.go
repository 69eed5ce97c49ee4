// receptionist: automated voice receptionist for the clinic's phone line.
// Answers incoming calls, greets the caller, and holds a short guarded
// dialogue driven by telephony webhook events.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/wellnessclinic/go-receptionist/internal/config"
	"github.com/wellnessclinic/go-receptionist/internal/log"
	"github.com/wellnessclinic/go-receptionist/pkg/callstate"
	"github.com/wellnessclinic/go-receptionist/pkg/dialog"
	"github.com/wellnessclinic/go-receptionist/pkg/hub"
	"github.com/wellnessclinic/go-receptionist/pkg/inference"
	"github.com/wellnessclinic/go-receptionist/pkg/orchestrator"
	"github.com/wellnessclinic/go-receptionist/pkg/server"
	"github.com/wellnessclinic/go-receptionist/pkg/speech"
	"github.com/wellnessclinic/go-receptionist/pkg/telephony"
)

var (
	version   = "1.0.0"
	port      = flag.Int("port", config.DefaultHTTPPort, "HTTP server port")
	accessLog = flag.Bool("access-log", false, "Enable HTTP access logging")
)

func main() {
	flag.Parse()

	// Override from environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", port)
	}

	// Missing provider credentials are fatal here, before any call can
	// reach a half-configured process.
	cfg := config.MustLoad()
	log.Init(cfg.LogLevel)

	log.Info("receptionist starting",
		"version", version,
		"telephony_configured", cfg.TelephonyConfigured(),
		"openai_configured", cfg.OpenAIConfigured(),
	)

	phone, err := telephony.NewClient(cfg.TelephonyConnectionString,
		telephony.WithLogger(log.L()),
	)
	if err != nil {
		log.Error("telephony client init failed", "error", err)
		os.Exit(1)
	}

	llm, err := inference.NewClient(
		inference.WithBaseURL(cfg.OpenAIEndpoint),
		inference.WithAPIKey(cfg.OpenAIKey),
		inference.WithAPIKeyHeader("api-key"),
		inference.WithModel(cfg.Model),
		inference.WithLogger(log.L()),
	)
	if err != nil {
		log.Error("inference client init failed", "error", err)
		os.Exit(1)
	}
	defer llm.Close()

	store := callstate.NewStore(log.L())
	feed := hub.New(log.L())
	store.OnAudit(func(entry callstate.AuditEntry) {
		feed.BroadcastJSON(entry)
	})

	policy := dialog.NewPolicy(llm, log.L())
	synth := speech.NewSynthesizer()
	orch := orchestrator.New(store, policy, phone, synth, cfg.CallbackURI(), log.L())

	srv := server.New(orch, store, feed, server.Options{
		Version:             version,
		TelephonyConfigured: cfg.TelephonyConfigured(),
		OpenAIConfigured:    cfg.OpenAIConfigured(),
		AccessLog:           *accessLog,
	}, log.L())

	// Graceful shutdown on SIGINT/SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Listen(fmt.Sprintf(":%d", *port)); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
