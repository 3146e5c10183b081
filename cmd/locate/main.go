package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"

	"github.com/anime-shed/photo-locator-go/internal/client"
	"github.com/anime-shed/photo-locator-go/internal/logger"
	"github.com/anime-shed/photo-locator-go/internal/normalizer"
	"github.com/anime-shed/photo-locator-go/internal/session"
	"github.com/anime-shed/photo-locator-go/pkg/models"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "locate",
		Usage:     "guess where a photo was taken",
		ArgsUsage: "IMAGE [IMAGE...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Aliases: []string{"s"},
				Value:   client.DefaultBaseURL,
				EnvVars: []string{"PHOTO_LOCATOR_URL"},
				Usage:   "photo locator API base URL",
			},
			&cli.StringFlag{
				Name:    "hint",
				Aliases: []string{"l"},
				Usage:   "optional location hint, advisory only",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: client.DefaultTimeout,
				Usage: "per image request timeout",
			},
			&cli.BoolFlag{
				Name:  "upload",
				Usage: "send the original file and let the server normalize it",
			},
			&cli.IntFlag{
				Name:  "max-width",
				Value: normalizer.DefaultMaxWidth,
			},
			&cli.IntFlag{
				Name:  "max-height",
				Value: normalizer.DefaultMaxHeight,
			},
			&cli.IntFlag{
				Name:  "quality",
				Value: normalizer.DefaultJPEGQuality,
				Usage: "JPEG quality used when re-encoding",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one image path is required", 2)
	}
	logger.Configure(c.App.ErrWriter, c.String("log-level"), "text")

	api := client.New(c.String("server"), client.WithTimeout(c.Duration("timeout")))
	out := c.App.Writer

	if c.Bool("upload") {
		return forEachImage(c, func(asset models.ImageAsset) bool {
			return printResult(out, api.Upload(c.Context, asset, c.String("hint")))
		})
	}

	norm, err := normalizer.New(normalizer.DefaultOptions().
		WithBounds(c.Int("max-width"), c.Int("max-height")).
		WithQuality(c.Int("quality")))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	sess := session.New(api, norm)
	return forEachImage(c, func(asset models.ImageAsset) bool {
		// Each image starts from a clean session
		if err := sess.Reset(); err != nil {
			fmt.Fprintf(out, "%s: %v\n", asset.Filename, err)
			return false
		}
		if err := sess.Select(asset); err != nil {
			snap := sess.Snapshot()
			if snap.Result != nil {
				return printResult(out, *snap.Result)
			}
			fmt.Fprintf(out, "could not process image: %v\n", err)
			return false
		}

		preview := sess.Snapshot().Preview
		fmt.Fprintf(out, "preview: %dx%d %s, %d base64 bytes\n",
			preview.Width, preview.Height, preview.MIMEType, len(preview.EncodedData))

		result, err := sess.Analyze(c.Context, c.String("hint"))
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, "canceled")
			return false
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			fmt.Fprintf(out, "error: %v\n", err)
			return false
		}
		return printResult(out, result)
	})
}

// forEachImage reads every path argument and calls fn with it. It stops on
// cancellation and reports failure if any image failed.
func forEachImage(c *cli.Context, fn func(models.ImageAsset) bool) error {
	failed := 0
	for _, path := range c.Args().Slice() {
		if c.Context.Err() != nil {
			break
		}
		fmt.Fprintf(c.App.Writer, "== %s\n", filepath.Base(path))

		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(c.App.Writer, "error: %v\n", err)
			failed++
			continue
		}
		asset := models.ImageAsset{
			Data:     data,
			MIMEType: mimetype.Detect(data).String(),
			Filename: filepath.Base(path),
		}
		start := time.Now()
		if !fn(asset) {
			failed++
		}
		logger.WithField("elapsed", time.Since(start).String()).Debug("Image done")
	}

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d images failed", failed, c.NArg()), 1)
	}
	return nil
}

func printResult(w io.Writer, result models.AnalysisResult) bool {
	if result.OK() {
		fmt.Fprintln(w, result.LocationText())
		return true
	}
	f := result.Failure()
	if f.Details != "" {
		fmt.Fprintf(w, "error (%d %s): %s: %s\n", f.StatusCode, f.Kind, f.Message, f.Details)
	} else {
		fmt.Fprintf(w, "error (%d %s): %s\n", f.StatusCode, f.Kind, f.Message)
	}
	return false
}
