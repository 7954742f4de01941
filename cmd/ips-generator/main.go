package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ipsgen/internal/config"
	"github.com/ehr/ipsgen/internal/ips/batch"
	"github.com/ehr/ipsgen/internal/platform/output"
	"github.com/ehr/ipsgen/internal/platform/pools"
	"github.com/ehr/ipsgen/internal/platform/render"
	"github.com/ehr/ipsgen/internal/platform/server"
)

const (
	toolName    = "ips-generator"
	toolVersion = "0.3.0"
	toolSource  = "https://github.com/wkusnierczyk/ips-sampler"
	toolLicence = "MIT https://opensource.org/licenses/MIT"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var about bool

	rootCmd := &cobra.Command{
		Use:          toolName,
		Short:        "Synthetic International Patient Summary (IPS) generator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if about {
				printAbout(stdout)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.Flags().BoolVar(&about, "about", false, "Show tool information and exit")

	rootCmd.AddCommand(generateCmd(stdout, stderr))
	rootCmd.AddCommand(serveCmd(stderr))
	rootCmd.AddCommand(validateCmd(stdout))
	rootCmd.AddCommand(aboutCmd(stdout))

	return rootCmd
}

func printAbout(w io.Writer) {
	fmt.Fprintf(w, "%s: Synthetic International Patient Summary (IPS) Generator\n", toolName)
	fmt.Fprintf(w, "├─ version:   %s\n", toolVersion)
	fmt.Fprintf(w, "├─ source:    %s\n", toolSource)
	fmt.Fprintf(w, "└─ licence:   %s\n", toolLicence)
}

// newLogger writes JSON lines to w, or console output in development.
func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

func loadPools(path string, cfg *config.Config) (*pools.Store, string, error) {
	if path == "" {
		path = cfg.PoolsFile
	}
	store, err := pools.Load(path)
	return store, path, err
}

func aboutCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "about",
		Short: "Show tool information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printAbout(stdout)
		},
	}
}

func validateCmd(stdout io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a pool configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			store, path, err := loadPools(path, cfg)
			if err != nil {
				return err
			}

			summary := store.Summary()
			keys := make([]string, 0, len(summary))
			for k := range summary {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			fmt.Fprintf(stdout, "%s: OK\n", path)
			for _, k := range keys {
				fmt.Fprintf(stdout, "  %-28s %d\n", k, summary[k])
			}
			for _, c := range pools.Categories {
				r := store.Range(c)
				retain := "unset"
				if r.Retain != nil {
					retain = fmt.Sprintf("%.2f", *r.Retain)
				}
				fmt.Fprintf(stdout, "  sampling.%-19s %d..%d retain=%s\n", c, r.Min, r.Max, retain)
			}
			return nil
		},
	}
	cmd.Flags().StringP("config", "c", "", "Pool configuration JSON (default $POOLS_FILE)")
	return cmd
}

func generateCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate IPS document Bundles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			patients, _ := cmd.Flags().GetInt("patients")
			repeats, _ := cmd.Flags().GetInt("repeats")
			outputDir, _ := cmd.Flags().GetString("output-dir")
			poolsPath, _ := cmd.Flags().GetString("config")
			minify, _ := cmd.Flags().GetBool("minify")
			withPDF, _ := cmd.Flags().GetBool("pdf")
			sinkName, _ := cmd.Flags().GetString("sink")

			var seed *int64
			if cmd.Flags().Changed("seed") {
				s, _ := cmd.Flags().GetInt64("seed")
				seed = &s
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(sinkName); err != nil {
				return err
			}
			logger := newLogger(stderr, cfg)

			store, path, err := loadPools(poolsPath, cfg)
			if err != nil {
				return err
			}
			logger.Debug().Str("pools", path).Interface("sizes", store.Summary()).Msg("pools loaded")

			g := batch.New(store, batch.Options{Seed: seed, Logger: logger})
			it, err := g.Batch(patients, repeats)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var pdf *render.PDFRenderer
			if withPDF {
				pdf = render.NewPDFRenderer()
			}
			sink, err := openSink(ctx, sinkName, cfg, g.Seed(), outputDir, minify, pdf, stdout)
			if err != nil {
				return err
			}

			n, err := output.Drain(ctx, it, sink, "cli", logger)
			if cerr := sink.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}

			logger.Info().
				Int64("seed", g.Seed()).
				Int("records", n).
				Str("sink", sink.Name()).
				Msg("generation complete")
			return nil
		},
	}

	cmd.Flags().IntP("patients", "p", 0, "Number of distinct patients")
	cmd.Flags().IntP("repeats", "r", 1, "Records per patient")
	cmd.Flags().Int64("seed", 0, "Random seed for reproducibility (default: system entropy)")
	cmd.Flags().StringP("output-dir", "o", "output", "Output directory for the dir sink")
	cmd.Flags().StringP("config", "c", "", "Pool configuration JSON (default $POOLS_FILE)")
	cmd.Flags().Bool("minify", false, "Write minified JSON")
	cmd.Flags().Bool("pdf", false, "Also render a PDF per Bundle (dir and s3 sinks)")
	cmd.Flags().String("sink", config.SinkDir, "Output sink: dir, ndjson, postgres or s3")
	cmd.MarkFlagRequired("patients")

	return cmd
}

func openSink(ctx context.Context, name string, cfg *config.Config, seed int64, dir string, minify bool, pdf *render.PDFRenderer, stdout io.Writer) (output.Sink, error) {
	switch name {
	case config.SinkDir:
		return output.NewDirSink(dir, minify, pdf)
	case config.SinkNDJSON:
		return output.NewNDJSONSink(stdout), nil
	case config.SinkPostgres:
		return output.OpenPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, seed)
	case config.SinkS3:
		return output.NewS3Sink(ctx, output.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
			Prefix:    cfg.S3Prefix,
			Minify:    minify,
		}, pdf)
	}
	return nil, fmt.Errorf("unknown sink %q", name)
}

func serveCmd(stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP sandbox API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(stderr)
		},
	}
}

func runServer(stderr io.Writer) error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(stderr, cfg)

	store, path, err := loadPools("", cfg)
	if err != nil {
		logger.Error().Err(err).Str("pools", path).Msg("failed to load pools")
		return err
	}

	e := server.New(store, logger, server.Options{Version: toolVersion})

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("pools", path).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
