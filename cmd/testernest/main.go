package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/tjfontaine/testernest-go/internal/config"
	"github.com/tjfontaine/testernest-go/internal/telemetry"
	"github.com/tjfontaine/testernest-go/pkg/testernest"
)

const usage = `Usage: testernest [flags] <command> [args]

Commands:
  send <name> [key=value ...]   queue an event and flush it
  connect <code|url>            claim a tester connect code
  disconnect                    drop the tester identity
  flush                         send queued events
  snapshot                      print the debug snapshot

Flags:
`

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.StringP("config", "c", config.DefaultPath, "config file path")
		publicKey  = flag.String("public-key", "", "public key (overrides sdk.public_key)")
		baseURL    = flag.String("base-url", "", "ingest base URL (overrides sdk.base_url)")
		verbose    = flag.BoolP("verbose", "v", false, "log SDK activity to stderr")
		timeout    = flag.Duration("timeout", 30*time.Second, "overall command timeout")
	)
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Tracing.Enabled {
		shutdown, err := telemetry.InitTracer(cfg.Tracing.ServiceName, logger,
			telemetry.WithServiceVersion(testernest.SDKVersion))
		if err != nil {
			log.Fatalf("Failed to initialize tracer: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, cfg, logger, *verbose, firstNonEmpty(*publicKey, cfg.SDK.PublicKey), firstNonEmpty(*baseURL, cfg.SDK.BaseURL), args); err != nil {
		logger.Error("command failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "testernest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, verbose bool, publicKey, baseURL string, args []string) error {
	opts := []testernest.Option{testernest.WithConfig(cfg)}
	if verbose {
		opts = append(opts, testernest.WithLogger(logger))
	}
	client, err := testernest.New(opts...)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	defer func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Error("close client", slog.String("error", err.Error()))
		}
	}()

	if err := client.Init(ctx, publicKey, baseURL); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "send":
		if len(rest) == 0 {
			return fmt.Errorf("send requires an event name")
		}
		props, err := parseProperties(rest[1:])
		if err != nil {
			return err
		}
		client.LogEventObject(rest[0], props)
		n, err := client.Flush(ctx)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		fmt.Printf("sent %d event(s)\n", n)
	case "connect":
		if len(rest) != 1 {
			return fmt.Errorf("connect requires a code or URL")
		}
		if err := client.ConnectText(ctx, rest[0], ""); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		fmt.Println("tester connected")
	case "disconnect":
		if err := client.Disconnect(ctx); err != nil {
			return fmt.Errorf("disconnect: %w", err)
		}
		fmt.Println("tester disconnected")
	case "flush":
		n, err := client.Flush(ctx)
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		fmt.Printf("sent %d event(s)\n", n)
	case "snapshot":
		if _, err := client.Flush(ctx); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(client.DebugSnapshot())
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// parseProperties turns key=value pairs into an ordered property object.
// Values that parse as bool, int or float keep that type.
func parseProperties(pairs []string) (*testernest.Object, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	props := testernest.NewObject()
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid property %q, want key=value", pair)
		}
		props.Set(key, parseValue(raw))
	}
	return props, nil
}

func parseValue(raw string) testernest.Value {
	switch raw {
	case "true":
		return testernest.Bool(true)
	case "false":
		return testernest.Bool(false)
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return testernest.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return testernest.Float(f)
	}
	return testernest.String(raw)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
