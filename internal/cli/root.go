// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"imgpipeline/internal/metrics"
	"imgpipeline/pkg/imgcache"
	"imgpipeline/pkg/imgpipeline"
)

// RootOpts holds global CLI options.
type RootOpts struct {
	JSONOut  bool
	Quiet    bool
	Verbose  bool
	Config   string
	LogFile  string
	LogLevel string
}

// Execute runs the CLI with the given version string.
func Execute(version string) error {
	ro := &RootOpts{}
	ctx, cancel := signalContext(context.Background())
	defer cancel()

	root := &cobra.Command{
		Use:           "imgpipeline",
		Short:         "Download, score, dedupe, and normalize the best images from a batch of URLs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}

	// Global flags
	root.PersistentFlags().BoolVar(&ro.JSONOut, "json", false, "Emit machine-readable JSON events and results")
	root.PersistentFlags().BoolVarP(&ro.Quiet, "quiet", "q", false, "Quiet mode (minimal logs)")
	root.PersistentFlags().BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logs (debug details)")
	root.PersistentFlags().StringVar(&ro.Config, "config", "", "Path to config file (JSON or YAML)")
	root.PersistentFlags().StringVar(&ro.LogFile, "log-file", "", "Write logs to file (in addition to stderr)")
	root.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")

	// Add commands
	processCmd := newProcessCmd(ctx, ro)
	root.AddCommand(processCmd)
	root.AddCommand(newVersionCmd(version))
	root.AddCommand(newConfigCmd())

	// Make process the default command when no subcommand is given
	root.RunE = processCmd.RunE
	root.PreRunE = processCmd.PreRunE
	root.Flags().AddFlagSet(processCmd.Flags())
	root.SetHelpCommand(&cobra.Command{Use: "help", Hidden: true})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return err
	}
	return nil
}

type processOpts struct {
	urlsFile        string
	topK            int
	maxConcurrent   int64
	maxBytes        string
	maxDim          int
	dedupThreshold  float64
	qualityFloor    float64
	noQualityFilter bool
	jpegQuality     int
	retries         int
	allowHosts      []string
	denyExts        []string
	l2URL           string
	noCache         bool
	outputDir       string
	dryRun          bool
}

func newProcessCmd(ctx context.Context, ro *RootOpts) *cobra.Command {
	po := &processOpts{}

	cmd := &cobra.Command{
		Use:   "process [URL...]",
		Short: "Run the image pipeline over a batch of URLs",
		Args:  cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return applySettingsDefaults(cmd, ro, po)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			urls, err := collectURLs(args, po.urlsFile)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return fmt.Errorf("missing URLs. Pass them as positional args or --urls-file")
			}

			cfg, err := buildSettings(ro, po)
			if err != nil {
				return err
			}

			// Plan-only mode
			if po.dryRun {
				return runDryRun(cmd.OutOrStdout(), cfg, urls, ro.JSONOut)
			}

			cache, err := buildCache(cfg.Logger, po)
			if err != nil {
				return err
			}
			cfg.Metrics = metrics.New(prometheus.NewRegistry())

			p := imgpipeline.New(cfg, imgpipeline.WithCache(cache))

			// Progress mode selection
			var progress imgpipeline.ProgressFunc
			var bar *pb.ProgressBar
			switch {
			case ro.JSONOut:
				progress = jsonProgress(os.Stderr)
			case ro.Quiet:
				// no progress output
			default:
				bar = pb.StartNew(len(urls))
				progress = barProgress(bar)
			}

			result, err := p.Process(ctx, imgpipeline.Job{
				URLs:         urls,
				TopK:         po.topK,
				DisableCache: po.noCache,
			}, progress)
			if bar != nil {
				bar.SetCurrent(int64(len(urls)))
				bar.Finish()
			}
			if err != nil {
				return err
			}

			if po.outputDir != "" {
				if err := writeImages(po.outputDir, result); err != nil {
					return err
				}
			}
			return printResult(cmd.OutOrStdout(), result, ro.JSONOut)
		},
	}

	cmd.Flags().StringVar(&po.urlsFile, "urls-file", "", "Read URLs from file, one per line ('-' for stdin)")
	cmd.Flags().IntVarP(&po.topK, "top-k", "k", 3, "Maximum number of images to emit")
	cmd.Flags().Int64Var(&po.maxConcurrent, "max-concurrent", 3, "Maximum concurrent downloads")
	cmd.Flags().StringVar(&po.maxBytes, "max-bytes", "10MiB", "Per-download size cap")
	cmd.Flags().IntVar(&po.maxDim, "max-dim", 1024, "Longest output side after normalization")
	cmd.Flags().Float64Var(&po.dedupThreshold, "dedup-threshold", 0.85, "Perceptual-hash similarity treated as duplicate")
	cmd.Flags().Float64Var(&po.qualityFloor, "quality-floor", 0.3, "Drop candidates scoring below this before selection")
	cmd.Flags().BoolVar(&po.noQualityFilter, "no-quality-filter", false, "Disable the quality floor cut")
	cmd.Flags().IntVar(&po.jpegQuality, "jpeg-quality", 85, "JPEG quality for normalized output")
	cmd.Flags().IntVar(&po.retries, "retries", 3, "Total attempts per URL (first try plus retries)")
	cmd.Flags().StringSliceVar(&po.allowHosts, "allow-hosts", nil, "Override the host allow-list (comma-separated tokens)")
	cmd.Flags().StringSliceVar(&po.denyExts, "deny-exts", nil, "Override the extension deny-list")
	cmd.Flags().StringVar(&po.l2URL, "l2-url", "", "Redis URL for the L2 cache (e.g. redis://localhost:6379/0)")
	cmd.Flags().BoolVar(&po.noCache, "no-cache", false, "Skip cache lookups and writes for this run")
	cmd.Flags().StringVarP(&po.outputDir, "output", "o", "", "Write selected JPEGs to this directory")
	cmd.Flags().BoolVar(&po.dryRun, "dry-run", false, "Validate only: print which URLs would be fetched and exit")

	return cmd
}

func buildSettings(ro *RootOpts, po *processOpts) (imgpipeline.Settings, error) {
	cfg := imgpipeline.SettingsFromEnv(imgpipeline.DefaultSettings())

	maxBytes, err := imgpipeline.ParseSize(po.maxBytes, cfg.MaxBytes)
	if err != nil {
		return cfg, fmt.Errorf("invalid --max-bytes: %w", err)
	}
	cfg.MaxBytes = maxBytes
	cfg.TopK = po.topK
	cfg.MaxConcurrentDownloads = po.maxConcurrent
	cfg.MaxDim = po.maxDim
	cfg.DedupThreshold = po.dedupThreshold
	cfg.QualityFloor = po.qualityFloor
	cfg.QualityFilter = !po.noQualityFilter
	cfg.JPEGQuality = po.jpegQuality
	cfg.MaxAttempts = po.retries
	if len(po.allowHosts) > 0 {
		cfg.AllowHosts = po.allowHosts
	}
	if len(po.denyExts) > 0 {
		cfg.DenyExts = po.denyExts
	}

	logger, err := buildLogger(ro)
	if err != nil {
		return cfg, err
	}
	cfg.Logger = logger
	return cfg, nil
}

func buildCache(logger *zap.Logger, po *processOpts) (*imgcache.Cache, error) {
	ccfg := imgcache.ConfigFromEnv(imgcache.DefaultConfig())
	ccfg.Logger = logger

	l2URL := po.l2URL
	if l2URL == "" {
		l2URL = os.Getenv("IMG_L2_URL")
	}

	var store imgcache.Store
	if l2URL != "" {
		rs, err := imgcache.NewRedisStore(l2URL)
		if err != nil {
			return nil, fmt.Errorf("invalid L2 URL: %w", err)
		}
		store = rs
	}
	return imgcache.New(ccfg, store), nil
}

func buildLogger(ro *RootOpts) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch {
	case ro.Verbose:
		level = zapcore.DebugLevel
	case ro.Quiet:
		level = zapcore.WarnLevel
	default:
		if err := level.Set(ro.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid --log-level %q", ro.LogLevel)
		}
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.OutputPaths = []string{"stderr"}
	if ro.LogFile != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, ro.LogFile)
	}
	return zcfg.Build()
}

func collectURLs(args []string, urlsFile string) ([]string, error) {
	urls := append([]string(nil), args...)
	if urlsFile == "" {
		return urls, nil
	}

	var r io.Reader
	if urlsFile == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(urlsFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			urls = append(urls, line)
		}
	}
	return urls, sc.Err()
}

func runDryRun(w io.Writer, cfg imgpipeline.Settings, urls []string, jsonOut bool) error {
	v := imgpipeline.NewURLValidator(cfg.AllowHosts, cfg.DenyExts)

	type planItem struct {
		URL   string `json:"url"`
		Valid bool   `json:"valid"`
	}
	items := make([]planItem, 0, len(urls))
	for _, u := range urls {
		items = append(items, planItem{URL: u, Valid: v.Validate(u)})
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}
	fmt.Fprintf(w, "Plan (%d URLs):\n", len(items))
	for _, it := range items {
		mark := "fetch"
		if !it.Valid {
			mark = "reject"
		}
		fmt.Fprintf(w, "  %-7s %s\n", mark, it.URL)
	}
	return nil
}

func writeImages(dir string, result *imgpipeline.PipelineResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i, img := range result.Images {
		name := imgpipeline.Fingerprint(result.Metadata[i].URL) + ".jpg"
		if err := os.WriteFile(filepath.Join(dir, name), img.JPEG, 0o644); err != nil {
			return err
		}
	}
	return nil
}

func printResult(w io.Writer, result *imgpipeline.PipelineResult, jsonOut bool) error {
	type summary struct {
		Metadata       []imgpipeline.ImageMetadata `json:"metadata"`
		QualityScores  []float64                   `json:"qualityScores"`
		Errors         []imgpipeline.URLError      `json:"errors"`
		ProcessingSecs float64                     `json:"processingTimeSeconds"`
	}
	s := summary{
		Metadata:       result.Metadata,
		QualityScores:  result.QualityScores,
		Errors:         result.Errors,
		ProcessingSecs: result.ProcessingTime.Seconds(),
	}

	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "selected %d image(s) in %.2fs\n", len(result.Images), s.ProcessingSecs)
	for i, m := range result.Metadata {
		fmt.Fprintf(w, "  %d. %s  %dx%d %s  score=%.2f\n",
			i+1, m.URL, m.Width, m.Height, m.Format, result.QualityScores[i])
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  failed: %s  %s: %s\n", e.URL, e.Kind, e.Detail)
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, po *processOpts) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		// Try JSON first, then YAML
		jsonPath := filepath.Join(home, ".config", "imgpipeline.json")
		yamlPath := filepath.Join(home, ".config", "imgpipeline.yaml")
		ymlPath := filepath.Join(home, ".config", "imgpipeline.yml")

		if _, err := os.Stat(jsonPath); err == nil {
			path = jsonPath
		} else if _, err := os.Stat(yamlPath); err == nil {
			path = yamlPath
		} else if _, err := os.Stat(ymlPath); err == nil {
			path = ymlPath
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any

	// Parse based on file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setFloat := func(flagName string, set func(float64)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x float64
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}

	setInt("top-k", func(v int) { po.topK = v })
	setInt("max-concurrent", func(v int) { po.maxConcurrent = int64(v) })
	setStr("max-bytes", func(v string) { po.maxBytes = v })
	setInt("max-dim", func(v int) { po.maxDim = v })
	setFloat("dedup-threshold", func(v float64) { po.dedupThreshold = v })
	setFloat("quality-floor", func(v float64) { po.qualityFloor = v })
	setInt("jpeg-quality", func(v int) { po.jpegQuality = v })
	setInt("retries", func(v int) { po.retries = v })
	setStr("l2-url", func(v string) { po.l2URL = v })
	setStr("output", func(v string) { po.outputDir = v })
	setStr("allow-hosts", func(v string) { po.allowHosts = splitComma(v) })
	setStr("deny-exts", func(v string) { po.denyExts = splitComma(v) })

	return nil
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// barProgress drives the terminal progress bar from pipeline events. One
// tick per URL reaching a terminal state.
func barProgress(bar *pb.ProgressBar) imgpipeline.ProgressFunc {
	var mu sync.Mutex
	return func(ev imgpipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Event {
		case "url_done", "error":
			bar.Increment()
		}
	}
}

// jsonProgress returns a JSON-lines progress handler.
func jsonProgress(w io.Writer) imgpipeline.ProgressFunc {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	var mu sync.Mutex
	return func(ev imgpipeline.ProgressEvent) {
		mu.Lock()
		_ = enc.Encode(ev)
		mu.Unlock()
	}
}
