// ABOUTME: Entry point for the aura NSI requester agent
// ABOUTME: Wires config, store, policy, discovery, and the protocol engine

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/anaeng/aura/internal/config"
	"github.com/anaeng/aura/internal/correlation"
	"github.com/anaeng/aura/internal/discovery"
	"github.com/anaeng/aura/internal/engine"
	"github.com/anaeng/aura/internal/nsi"
	"github.com/anaeng/aura/internal/policy"
	"github.com/anaeng/aura/internal/server"
	"github.com/anaeng/aura/internal/store"
	"github.com/anaeng/aura/internal/timeout"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _ _   _ _ __ __ _
 / _' | | | | '__/ _' |
| (_| | |_| | | | (_| |
 \__,_|\__,_|_|  \__,_|
`

// getConfigPath returns the path to the aura config file.
// Priority: AURA_CONFIG env var > XDG_CONFIG_HOME/aura/aura.yaml > ~/.config/aura/aura.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AURA_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "aura.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "aura", "aura.yaml")
}

// getDataPath returns the path to the aura data directory.
// Priority: XDG_DATA_HOME/aura > ~/.local/share/aura
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "aura")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: aura <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve        Start the requester agent")
		fmt.Println("  init         Create a new config file interactively")
		fmt.Println("  health       Check agent health")
		fmt.Println("  connections  List connections")
		fmt.Println("  version      Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "connections":
		err = runConnections(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Resolve the provider's SOAP endpoint, from discovery when configured.
	providerNSA := cfg.Provider.NSAID
	soapURL := cfg.Provider.SOAPURL
	if cfg.Provider.DiscoveryURL != "" {
		doc, err := discovery.NewClient().Fetch(ctx, cfg.Provider.DiscoveryURL)
		if err != nil {
			return fmt.Errorf("fetching discovery document: %w", err)
		}
		endpoint, err := doc.ProviderEndpoint()
		if err != nil {
			return fmt.Errorf("resolving provider endpoint: %w", err)
		}
		soapURL = endpoint
		if doc.NSAID != "" {
			providerNSA = doc.NSAID
		}
	}

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Provider:  ")
	cyan.Println(providerNSA)
	green.Print("    ▶ ")
	fmt.Printf("SOAP:      %s\n", soapURL)
	fmt.Println()

	logger.Info("starting aura",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"provider_nsa", providerNSA,
		"soap_url", soapURL,
	)

	// Open the store
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Fault policy, reloaded on file change when a path is configured
	pol := policy.Default()
	if cfg.Policy.Path != "" {
		pol, err = policy.Load(cfg.Policy.Path)
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}
		if err := pol.Watch(ctx, cfg.Policy.Path, logger); err != nil {
			return fmt.Errorf("watching policy: %w", err)
		}
	}

	tracker := correlation.NewTracker()
	eng := engine.New(engine.Options{
		Store:   st,
		Tracker: tracker,
		Codec: &nsi.Codec{
			RequesterNSA: cfg.Requester.NSAID,
			ProviderNSA:  providerNSA,
			ReplyTo:      cfg.Requester.ReplyToURL,
		},
		Emitter:          nsi.NewHTTPEmitter(soapURL),
		Policy:           pol,
		OperationTimeout: cfg.Timeouts.Operation,
		QueryTimeout:     cfg.Timeouts.Query,
		Logger:           logger,
	})
	defer eng.Close()

	timeouts := timeout.NewManager(tracker, eng, nil, timeout.DefaultRetryPolicy(), logger)

	srv := server.New(cfg.Server.HTTPAddr, eng, st, timeouts, cfg.Timeouts.SweepInterval, logger)
	return srv.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runConnections(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/api/connections", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing connections failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	fmt.Println(string(body))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("aura configuration setup")
	fmt.Println("========================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "aura.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":9080")
	replyTo := prompt(reader, "Callback URL as the provider sees it", "http://localhost:9080/nsi/callback")

	// Identity
	fmt.Println("\n--- NSA Identity ---")
	requesterNSA := prompt(reader, "Requester NSA id", "urn:ogf:network:example.org:2024:nsa:aura")
	providerNSA := prompt(reader, "Provider NSA id", "")
	discoveryURL := prompt(reader, "Provider discovery URL (leave empty to set soap_url)", "")
	var soapURL string
	if discoveryURL == "" {
		soapURL = prompt(reader, "Provider SOAP endpoint", "")
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# aura configuration\n")
	cfg.WriteString("# Generated by aura init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("requester:\n")
	cfg.WriteString(fmt.Sprintf("  nsa_id: \"%s\"\n", requesterNSA))
	cfg.WriteString(fmt.Sprintf("  reply_to_url: \"%s\"\n", replyTo))
	cfg.WriteString("\n")

	cfg.WriteString("provider:\n")
	cfg.WriteString(fmt.Sprintf("  nsa_id: \"%s\"\n", providerNSA))
	if discoveryURL != "" {
		cfg.WriteString(fmt.Sprintf("  discovery_url: \"%s\"\n", discoveryURL))
	} else {
		cfg.WriteString(fmt.Sprintf("  soap_url: \"%s\"\n", soapURL))
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("timeouts:\n")
	cfg.WriteString("  operation: \"120s\"\n")
	cfg.WriteString("  query: \"30s\"\n")
	cfg.WriteString("  sweep_interval: \"1s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the agent:")
	fmt.Printf("  aura serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
