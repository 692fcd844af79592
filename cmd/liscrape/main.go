package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/liscrape/internal/adapters/http/api"
	"github.com/okian/liscrape/internal/adapters/mq/worker"
	"github.com/okian/liscrape/internal/adapters/profileapi"
	"github.com/okian/liscrape/internal/adapters/repository"
	"github.com/okian/liscrape/internal/adapters/sink"
	"github.com/okian/liscrape/internal/adapters/watch"
	service "github.com/okian/liscrape/internal/app"
	"github.com/okian/liscrape/internal/config"
	"github.com/okian/liscrape/internal/console"
	"github.com/okian/liscrape/internal/domain/ledger"
	"github.com/okian/liscrape/internal/domain/model"
	"github.com/okian/liscrape/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// errConsoleClosed ends the run group when the operator quits.
var errConsoleClosed = errors.New("console closed")

func main() {
	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(logger.WithOutput(os.Stderr), logger.WithFile(cfg.LogFile)); err != nil {
		os.Stderr.WriteString("failed to open log file: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logger.Get().Error(ctx, "liscrape stopped with error", logger.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run builds the pipeline from cfg and serves every enabled front end until
// ctx ends or the console quits.
func run(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer) error {
	log := logger.Get()

	kind, path, err := sink.Resolve(cfg.SheetType, cfg.SheetPath)
	if err != nil {
		return err
	}
	out, err := sink.Open(kind, path)
	if err != nil {
		return err
	}

	fetcher, limit, err := buildFetcher(cfg, log)
	if err != nil {
		return err
	}

	led := ledger.New(
		repository.NewHistoryStore(repository.NewFileStore(cfg.LedgerPath)),
		ledger.WithHourlyLimit(limit),
		ledger.WithLogger(log.Named("ledger")),
	)

	var con *console.Console
	ctrl := service.New(led, fetcher, out,
		service.WithQueueSize(cfg.QueueSize),
		service.WithIgnoreDuplicates(cfg.IgnoreDuplicates),
		service.WithLogger(log.Named("controller")),
		service.WithNotifier(func(r model.ItemResult) {
			if con != nil {
				con.Notify(r)
			}
		}),
	)
	if cfg.Console {
		con = console.New(ctrl, stdin, stdout)
	}

	// Persist what we have if anything below panics.
	defer ctrl.Guard(ctx)

	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	// goGuarded runs fn in the group with the same panic guard as run.
	goGuarded := func(fn func() error) {
		g.Go(func() error {
			defer ctrl.Guard(gctx)
			return fn()
		})
	}
	goGuarded(func() error {
		<-gctx.Done()
		return nil
	})

	if cfg.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           api.NewServer(ctrl).Router(),
			ReadTimeout:       readTimeout,
			IdleTimeout:       idleTimeout,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return gctx },
		}
		goGuarded(func() error {
			log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		goGuarded(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(gctx, "server shutdown failed", logger.Error(err))
			}
			return nil
		})
	}

	if cfg.InboxDir != "" {
		inbox := watch.New(cfg.InboxDir, ctrl, log.Named("inbox"))
		goGuarded(func() error { return inbox.Run(gctx) })
	}

	if con != nil {
		goGuarded(func() error {
			if err := con.Run(gctx); err != nil {
				return err
			}
			return errConsoleClosed
		})
	}

	runErr := g.Wait()
	if errors.Is(runErr, errConsoleClosed) {
		runErr = nil
	}
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, ctrl.Shutdown(shutdownCtx))
}

// buildFetcher returns the profile source and the hourly limit to enforce.
// Debug mode uses canned profiles and no limit.
func buildFetcher(cfg *config.Config, log logger.Logger) (worker.Fetcher, int, error) {
	if cfg.Debug {
		log.Warn(context.Background(), "debug mode: using sample profiles, hourly limit disabled")
		return profileapi.SampleFetcher{}, 0, nil
	}
	client, err := profileapi.New(cfg.APIBaseURL,
		profileapi.WithToken(cfg.APIToken),
		profileapi.WithTimeout(time.Duration(cfg.APITimeoutMS)*time.Millisecond),
		profileapi.WithRetry(cfg.APIMaxRetries, time.Duration(cfg.APIBackoffMS)*time.Millisecond),
		profileapi.WithLogger(log.Named("profileapi")),
	)
	if err != nil {
		return nil, 0, err
	}
	return client, cfg.HourlyLimit, nil
}
