package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/8bitGames/creative-mut-app/internal/config"
	"github.com/8bitGames/creative-mut-app/internal/stitch"
	"github.com/8bitGames/creative-mut-app/pkg/util"
)

var (
	framesOut     string
	stitchImages  []string
	stitchOutput  string
	stitchSeconds float64
	historyLimit  int
)

func init() {
	framesCmd.Flags().StringVar(&framesOut, "out", "", "output directory (default: next to the video)")

	stitchCmd.Flags().StringSliceVar(&stitchImages, "images", nil, "exactly three image paths")
	stitchCmd.Flags().StringVar(&stitchOutput, "output", "", "output video path")
	stitchCmd.Flags().Float64Var(&stitchSeconds, "duration", stitch.DefaultPerImage, "seconds per image")
	_ = stitchCmd.MarkFlagRequired("output")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var verifyCmd = &cobra.Command{
	Use:   "verify [video]",
	Short: "Probe and decode-check a video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		a, err := newApp(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		report := a.verifier.Verify(cmd.Context(), args[0])
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		if !report.Valid {
			return fmt.Errorf("%s is not a valid video: %s", args[0], report.Error)
		}
		return nil
	},
}

var framesCmd = &cobra.Command{
	Use:   "frames [video]",
	Short: "Extract the print frames of a finished video",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		a, err := newApp(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		dir := framesOut
		if dir == "" {
			dir = filepath.Dir(args[0])
		}

		paths, err := a.extractor().Extract(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"framePaths": paths})
	},
}

var encodersCmd = &cobra.Command{
	Use:   "encoders",
	Short: "List H.264 encoders and show which one would be used",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		a, err := newApp(cfg, log.Logger)
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.exec.ListEncoders(cmd.Context())
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "ffmpeg:   %s\nffprobe:  %s\n", a.exec.FFmpegPath(), a.exec.FFprobePath())
		for _, name := range names {
			if strings.Contains(name, "264") {
				fmt.Fprintf(w, "  %s\n", name)
			}
		}
		fmt.Fprintf(w, "selected: %s\n", a.selector.Select(cmd.Context()))
		return nil
	},
}

var stitchCmd = &cobra.Command{
	Use:   "stitch",
	Short: "Build a slideshow video from three images",
	RunE: func(cmd *cobra.Command, args []string) error {
		// the caller always gets a JSON line, then a non-zero exit on failure
		fail := func(err error) error {
			_ = printJSON(cmd.OutOrStdout(), stitch.Result{Success: false, Error: err.Error()})
			return err
		}

		cfg := config.FromContext(cmd.Context())
		a, err := newApp(cfg, log.Logger)
		if err != nil {
			return fail(err)
		}
		defer a.Close()

		if err := util.EnsureDir(filepath.Dir(stitchOutput)); err != nil {
			return fail(err)
		}

		s := stitch.New(a.logger, a.exec, stitch.DefaultOptions())
		res, err := s.Stitch(cmd.Context(), stitchImages, stitchOutput, stitchSeconds)
		if err != nil {
			return fail(err)
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired session directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		// no ffmpeg needed here
		a := &app{cfg: cfg, logger: log.Logger}
		defer a.Close()

		report, err := a.sessions().Cleanup(cmd.Context())
		if err != nil {
			return err
		}

		log.Info().
			Int("removed", len(report.Removed)).
			Int("locked", len(report.Locked)).
			Int("kept", len(report.Kept)).
			Msg("cleanup complete")
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		a := &app{cfg: cfg, logger: log.Logger}
		defer a.Close()

		store, err := a.openHistory()
		if err != nil {
			return err
		}

		runs, err := store.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}
		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(os.Stdout, map[string]any{"runs": runs, "stats": stats})
		}

		w := cmd.OutOrStdout()
		for _, r := range runs {
			status := "ok"
			if !r.Success {
				status = "FAILED"
			}
			fmt.Fprintf(w, "%s  %-6s  %-12s  %s  %s\n",
				r.SessionID, status, r.Encoder, util.FormatDuration(r.Total), r.Error)
		}
		fmt.Fprintf(w, "\n%d runs, %d succeeded, %d failed\n", stats.Total, stats.Succeeded, stats.Failed)
		return nil
	},
}
