package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/8bitGames/creative-mut-app/internal/config"
	"github.com/8bitGames/creative-mut-app/internal/logging"
	"github.com/8bitGames/creative-mut-app/internal/overlays"
	"github.com/8bitGames/creative-mut-app/internal/pipeline"
	"github.com/8bitGames/creative-mut-app/internal/stage"
)

var (
	cfgFile string
	verbose bool
	jsonOut bool
)

// flags of the root command, the surface the kiosk app calls.
var (
	inputPath    string
	framePath    string
	chromaPath   string
	subtitle     string
	s3Folder     string
	shadow       bool
	noEnhance    bool
	enhanceLevel string
	parallel     bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mutpipeline",
	Short: "MUT hologram pipeline - compose, sample, upload",
	Long: "Composes a recorded take with a hologram frame overlay, samples print frames,\n" +
		"uploads the result and renders a download QR code.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Initialize logging
		logging.Init(logging.Options{Verbose: verbose, Structured: jsonOut})

		// Load config
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
	RunE: runSession,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print a single JSON result line on stdout")

	flags := rootCmd.Flags()
	flags.StringVar(&inputPath, "input", "", "recorded video (webm or mp4)")
	flags.StringVar(&framePath, "frame", "", "frame overlay image path or registered name")
	flags.StringVar(&chromaPath, "chroma", "", "alias of --frame")
	flags.StringVar(&subtitle, "subtitle", "", "accepted for compatibility, unused")
	flags.StringVar(&s3Folder, "s3-folder", "", "S3 key prefix (default from config)")
	flags.BoolVar(&shadow, "shadow", false, "cast a drop shadow behind the person")
	flags.BoolVar(&noEnhance, "no-enhance", false, "skip colour enhancement")
	flags.StringVar(&enhanceLevel, "enhance-level", "", "light, medium or strong (default from config)")
	flags.BoolVar(&parallel, "parallel", false, "encode the composite in parallel time segments")
	_ = flags.MarkHidden("subtitle")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(framesCmd)
	rootCmd.AddCommand(encodersCmd)
	rootCmd.AddCommand(stitchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(historyCmd)
}

// sessionRequest merges the root flags over the configured defaults.
func sessionRequest(cfg *config.Config, overlay string) (pipeline.Request, error) {
	level := stage.Level(cfg.Compose.EnhanceLevel)
	if enhanceLevel != "" {
		level = stage.Level(enhanceLevel)
	}
	if _, err := stage.RecipeFor(level); err != nil {
		return pipeline.Request{}, err
	}

	folder := cfg.S3.Folder
	if s3Folder != "" {
		folder = s3Folder
	}

	return pipeline.Request{
		Video:    inputPath,
		Overlay:  overlay,
		S3Folder: folder,
		Shadow:   shadowConfig(cfg.Shadow, shadow),
		Enhance:  cfg.Compose.Enhance && !noEnhance,
		Level:    level,
	}, nil
}

func shadowConfig(c config.ShadowConfig, force bool) stage.ShadowConfig {
	return stage.ShadowConfig{
		Enabled: c.Enabled || force,
		OffsetX: c.OffsetX,
		OffsetY: c.OffsetY,
		Blur:    c.Blur,
		Opacity: c.Opacity,
		Spread:  c.Spread,
	}
}

func frameArg() string {
	if framePath != "" {
		return framePath
	}
	return chromaPath
}

func runSession(cmd *cobra.Command, args []string) error {
	// in JSON mode even a setup failure is reported as a result line
	fail := func(err error) error {
		if !jsonOut {
			return err
		}
		res := &pipeline.Result{FramePaths: []string{}, Error: err.Error()}
		return res.WriteLine(os.Stdout)
	}

	if inputPath == "" {
		return fail(fmt.Errorf("--input is required"))
	}

	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	if parallel {
		cfg.Compose.Parallel = true
	}

	registry := overlays.NewRegistry(cfg.WorkDir, cfg.Overlays.Frames, cfg.Overlays.DefaultFrame)
	overlay, err := registry.Resolve(frameArg())
	if err != nil {
		return fail(err)
	}

	req, err := sessionRequest(cfg, overlay)
	if err != nil {
		return fail(err)
	}

	a, err := newApp(cfg, log.Logger)
	if err != nil {
		return fail(err)
	}
	defer a.Close()

	pipe, err := a.pipeline(ctx)
	if err != nil {
		return fail(err)
	}

	var bar *progressBar
	if !jsonOut {
		bar = newProgressBar(ctx, a.exec, inputPath)
		req.Progress = bar.Update
	}

	res, runErr := pipe.Run(ctx, req)
	bar.Finish()

	if jsonOut {
		// the caller reads success from the line; the exit code stays 0
		return res.WriteLine(os.Stdout)
	}

	printSummary(cmd.OutOrStdout(), res)
	return runErr
}

func printSummary(w io.Writer, res *pipeline.Result) {
	if !res.Success {
		fmt.Fprintf(w, "\nsession %s failed: %s\n", res.SessionID, res.Error)
		return
	}

	fmt.Fprintf(w, "\nsession %s complete in %.1fs\n", res.SessionID, res.TotalTime)
	fmt.Fprintf(w, "  video:   %s (%s, %d attempt(s))\n", res.VideoPath, res.Encoder, res.Attempts)
	for _, p := range res.FramePaths {
		fmt.Fprintf(w, "  frame:   %s\n", p)
	}
	if res.S3URL != nil {
		fmt.Fprintf(w, "  url:     %s\n", *res.S3URL)
	}
	if res.QRCodePath != nil {
		fmt.Fprintf(w, "  qr:      %s\n", *res.QRCodePath)
	}
}
