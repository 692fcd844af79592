package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/liscrape/internal/submitter"
	"github.com/okian/liscrape/pkg/logger"
)

// Default configuration constants.
const (
	defaultWorkers = 2 // multiplier for runtime.NumCPU()
	defaultTimeout = 5 * time.Minute
)

const usage = `liscrape-submit posts profile urls to a running liscrape service.

Usage:
  liscrape-submit [options] [url ...]

Urls come from the arguments, or from -file, or from stdin when neither is
given. Blank lines and lines starting with # are skipped.

Options:
`

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:9081", "Base URL of the service")
		file    = flag.String("file", "", "File with one profile url per line")
		workers = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Number of concurrent submitters")
		timeout = flag.Duration("timeout", defaultTimeout, "HTTP request timeout; a full queue holds requests open")
		verbose = flag.Bool("verbose", false, "Log every response")
	)
	flag.Usage = func() {
		_, _ = io.WriteString(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	urls, err := collectURLs(*file, flag.Args(), os.Stdin)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats, err := submitter.Run(ctx, submitter.Config{
		BaseURL: *baseURL,
		Workers: *workers,
		Timeout: *timeout,
		Verbose: *verbose,
	}, urls)
	if err != nil {
		os.Stderr.WriteString("submission failed: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("accepted %d, rate limited %d, rejected %d, failed %d\n",
		stats.Accepted, stats.RateLimited, stats.Rejected, stats.Failed)
	if stats.RateLimited > 0 {
		fmt.Printf("hourly limit reached, retry in %d minutes\n", stats.RetryAfterMinutes)
	}
}

// collectURLs prefers explicit arguments, then the file, then stdin.
func collectURLs(path string, args []string, stdin io.Reader) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if path == "" {
		return submitter.ReadURLs(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()
	return submitter.ReadURLs(f)
}
