package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consul "github.com/hashicorp/consul/api"

	"github.com/metorial/scriptforge/internal/analyzer"
	"github.com/metorial/scriptforge/internal/api"
	"github.com/metorial/scriptforge/internal/config"
	"github.com/metorial/scriptforge/internal/executor"
	"github.com/metorial/scriptforge/internal/gateway"
	"github.com/metorial/scriptforge/internal/notify"
	"github.com/metorial/scriptforge/internal/store"
	syncengine "github.com/metorial/scriptforge/internal/sync"
	"github.com/metorial/scriptforge/internal/webhook"
)

const (
	serviceName            = "scriptforge"
	defaultPruneInterval   = time.Hour
	defaultRetentionPeriod = 30 * 24 * time.Hour
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load(getEnv("CONFIG_PATH", "/etc/scriptforge/config.yaml"))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer st.Close()

	budget := gateway.NewRateBudget(cfg.GitHub.RateLimit)
	gw := gateway.New(budget)

	var ghOpts []gateway.GitHubOption
	if cfg.GitHub.BaseURL != "" {
		ghOpts = append(ghOpts, gateway.WithBaseURL(cfg.GitHub.BaseURL))
	}
	github := gateway.NewGitHubClient(cfg.GitHub.Token, gw, ghOpts...)

	var az analyzer.Analyzer = analyzer.Noop{}
	if cfg.Analyzer.URL != "" {
		az = analyzer.NewClient(cfg.Analyzer.URL)
	} else {
		log.Printf("Warning: no analyzer configured, scripts will carry empty findings")
	}

	syncer := syncengine.NewEngine(st, github, az)

	hooks, err := webhook.NewService(cfg.Webhook.Secret, syncer)
	if err != nil {
		return fmt.Errorf("initialize webhook service: %w", err)
	}

	runtime := executor.Runtime{
		Shell:       cfg.Executor.Shell,
		Args:        cfg.Executor.Args,
		Constrained: cfg.Executor.Constrained,
		Version:     cfg.Executor.RuntimeVersion,
	}
	exec := executor.NewEngine(st, az, notify.LogSink{}, runtime, cfg.Executor.MaxConcurrent)
	defer exec.Close()

	mux := http.NewServeMux()
	handler := api.New(st, syncer, exec, hooks, github)
	if cfg.Webhook.CallbackURL != "" {
		handler.ConfigureWebhookProvisioning(cfg.Webhook.CallbackURL, cfg.Webhook.Secret)
	}
	handler.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go startMaintenanceTasks(ctx, st)

	if err := registerConsul(cfg.ConsulAddr, cfg.HTTPPort); err != nil {
		log.Printf("Warning: failed to register with Consul: %v", err)
	}
	defer deregisterConsul(cfg.ConsulAddr)

	errChan := make(chan error, 1)
	go func() {
		log.Printf("HTTP API server listening on :%s", cfg.HTTPPort)
		errChan <- httpServer.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	}
}

func startMaintenanceTasks(ctx context.Context, st *store.Store) {
	ticker := time.NewTicker(defaultPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.PruneSyncRuns(defaultRetentionPeriod); err != nil {
				log.Printf("Error pruning old sync runs: %v", err)
			}
		}
	}
}

func registerConsul(consulAddr, httpPort string) error {
	if consulAddr == "" {
		return nil
	}

	cfg := consul.DefaultConfig()
	cfg.Address = consulAddr
	client, err := consul.NewClient(cfg)
	if err != nil {
		return err
	}

	nodeIP := getEnv("NOMAD_IP_http", "")
	if nodeIP == "" {
		nodeIP = getLocalIP()
	}

	registration := &consul.AgentServiceRegistration{
		ID:      serviceName,
		Name:    serviceName,
		Port:    mustAtoi(httpPort),
		Address: nodeIP,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%s/api/v1/health", nodeIP, httpPort),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
		Tags: []string{"scripts", "sync", "http", "api"},
	}

	return client.Agent().ServiceRegister(registration)
}

func deregisterConsul(consulAddr string) {
	if consulAddr == "" {
		return
	}

	cfg := consul.DefaultConfig()
	cfg.Address = consulAddr
	client, err := consul.NewClient(cfg)
	if err != nil {
		log.Printf("Error creating consul client for deregistration: %v", err)
		return
	}

	if err := client.Agent().ServiceDeregister(serviceName); err != nil {
		log.Printf("Error deregistering service: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func mustAtoi(s string) int {
	var i int
	fmt.Sscanf(s, "%d", &i)
	return i
}

func getLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}

	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
