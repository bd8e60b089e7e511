package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/woxQAQ/drafter-wasm/internal/config"
	"github.com/woxQAQ/drafter-wasm/internal/observability"
	"github.com/woxQAQ/drafter-wasm/pkg/drafter"
)

var (
	version = "dev"
	commit  = "none"
)

type globalFlags struct {
	configPath string
	logLevel   string
	manifest   string
	wasmPath   string
	protocol   string
}

type parseFlags struct {
	astType     string
	sourcemap   bool
	requireName bool
	raw         bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	rootCmd := &cobra.Command{
		Use:          "drafter",
		Short:        "Parse and validate API Blueprint documents",
		Version:      fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&g.manifest, "manifest", "", "Engine manifest or the directory holding engine.yaml")
	rootCmd.PersistentFlags().StringVar(&g.wasmPath, "wasm", "", "Bare engine wasm file")
	rootCmd.PersistentFlags().StringVar(&g.protocol, "protocol", "", "Calling convention of a bare wasm file (bitpacked, positional)")

	var p parseFlags
	parseCmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse a blueprint and print the result document",
		Long:  "Parse a blueprint and print the result document. Use - to read from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{
				"type":                 p.astType,
				"exportSourcemap":      p.sourcemap,
				"requireBlueprintName": p.requireName,
				"json":                 !p.raw,
			}
			return run(cmd, &g, drafter.OpParse, args[0], opts)
		},
	}
	parseCmd.Flags().StringVar(&p.astType, "type", "refract", "Output type (refract, ast)")
	parseCmd.Flags().BoolVar(&p.sourcemap, "sourcemap", false, "Export source maps")
	parseCmd.Flags().BoolVar(&p.requireName, "require-name", false, "Require a blueprint name")
	parseCmd.Flags().BoolVar(&p.raw, "raw", false, "Print the engine output as is")

	var requireName bool
	validateCmd := &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a blueprint and print any findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := map[string]any{"requireBlueprintName": requireName}
			return run(cmd, &g, drafter.OpValidate, args[0], opts)
		},
	}
	validateCmd.Flags().BoolVar(&requireName, "require-name", false, "Require a blueprint name")

	rootCmd.AddCommand(parseCmd, validateCmd)
	return rootCmd
}

func run(cmd *cobra.Command, g *globalFlags, op drafter.Operation, path string, opts map[string]any) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}

	logConfig := zap.NewProductionConfig()
	logConfig.Level = zap.NewAtomicLevelAt(cfg.Level())
	logger, err := logConfig.Build()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	text, err := readInput(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driverOpts := []drafter.Option{drafter.WithLogger(logger)}
	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: version,
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("Failed to flush traces", zap.Error(err))
			}
		}()
		driverOpts = append(driverOpts, drafter.WithTracer(tp.Tracer()))
	}

	d, err := drafter.Open(ctx, cfg, driverOpts...)
	if err != nil {
		return err
	}
	defer d.Close(context.Background())

	method := "parseSync"
	if op == drafter.OpValidate {
		method = "validateSync"
	}

	value, err := d.Invoke(ctx, method, text, opts)
	var contentErr *drafter.ContentError
	if errors.As(err, &contentErr) {
		// The document describes what is wrong with the blueprint.
		value = contentErr.Result.Value()
	} else if err != nil {
		return err
	}

	if value != nil {
		out := cmd.OutOrStdout()
		if werr := writeValue(out, value, isTerminal(out)); werr != nil {
			return werr
		}
	}
	if op == drafter.OpValidate && value != nil {
		return fmt.Errorf("%s has findings", path)
	}
	return err
}

func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.manifest != "" {
		cfg.Engine.Manifest = g.manifest
	}
	if g.wasmPath != "" {
		cfg.Engine.WasmPath = g.wasmPath
	}
	if g.protocol != "" {
		cfg.Engine.Protocol = g.protocol
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readInput(stdin io.Reader, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

// writeValue prints a raw engine string as is and a document as JSON,
// indented when pretty is set.
func writeValue(w io.Writer, value any, pretty bool) error {
	if raw, ok := value.(string); ok {
		_, err := fmt.Fprintln(w, raw)
		return err
	}
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(value)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
