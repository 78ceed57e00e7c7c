// meshgate is the dispatch core of an off-grid mesh gateway: it matches
// inbound radio traffic against auto-response rules, runs scheduled
// broadcasts, and funnels everything through one priority-ordered outbound
// queue.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meshgate/meshgate/internal/audit"
	"github.com/meshgate/meshgate/internal/command"
	"github.com/meshgate/meshgate/internal/config"
	"github.com/meshgate/meshgate/internal/dispatch"
	"github.com/meshgate/meshgate/internal/gateway"
	"github.com/meshgate/meshgate/internal/plugin"
	"github.com/meshgate/meshgate/internal/ratelimit"
	"github.com/meshgate/meshgate/internal/rules"
	"github.com/meshgate/meshgate/internal/schedule"
	"github.com/meshgate/meshgate/internal/transport"
)

const shutdownGrace = 10 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	start := time.Now()

	settings, err := config.LoadSettings()
	if err != nil {
		return err
	}

	ruleSet, jobs, err := config.Load(settings.ConfigPath, logger)
	if err != nil {
		return err
	}

	// ctx governs in-flight work (plugin calls, dispatches). A signal does
	// not cancel it directly; shutdown stops intake first and cancels only
	// after the grace period, so running calls get to finish.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rate-limit state: redis when configured (multi-gateway sites),
	// otherwise in-memory with periodic pruning.
	var limiter ratelimit.Store
	if settings.RedisAddr != "" {
		redisStore, err := ratelimit.NewRedisStore(settings.RedisAddr, settings.RedisPassword, settings.RedisDB)
		if err != nil {
			return err
		}
		defer redisStore.Close()
		limiter = redisStore
		logger.Info("rate limiting via redis", "addr", settings.RedisAddr)
	} else {
		mem := ratelimit.New()
		go pruneLoop(ctx, mem, logger)
		limiter = mem
	}

	stateStore, err := schedule.OpenStateStore(settings.StatePath)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	auditor, err := audit.Open(settings.AuditPath)
	if err != nil {
		return err
	}
	defer auditor.Close()

	radio, err := transport.DialWS(ctx, settings.RadioURL, logger)
	if err != nil {
		return err
	}
	defer radio.Close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutting down", "signal", sig.String())
		// Closing the transport ends the inbound stream, which unwinds
		// the gateway loop below. Stragglers are aborted after grace.
		radio.Close()
		time.AfterFunc(shutdownGrace, cancel)
	}()

	bus := plugin.NewBus(settings.CallTimeout, logger)
	if err := bus.Register(gateway.StatusPlugin(start)); err != nil {
		return err
	}

	exec := plugin.NewExecutor(bus, settings.CallTimeout, logger)
	matcher := rules.NewMatcher(ruleSet, limiter, logger)

	queue := dispatch.NewQueue()
	assembler := dispatch.NewAssembler(queue)
	dispatcher := dispatch.NewDispatcher(queue, radio, settings.SendsPerMinute, auditor, logger)
	dispatcher.Start(ctx)

	runner := command.NewRunner(settings.CommandTimeout, settings.MaxCmdOutput)
	scheduler := schedule.New(jobs, stateStore, exec, runner, assembler.JobOutput, settings.Tick, logger)
	scheduler.SetAuditor(auditor)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	gw := gateway.New(matcher, exec, assembler, auditor, logger)

	logger.Info("meshgate up",
		"radio", settings.RadioURL,
		"rules", len(ruleSet),
		"jobs", len(jobs))

	// Blocks until the transport closes; the signal handler closes it.
	gw.Run(ctx, radio.Messages())

	gw.Wait(shutdownGrace)
	if err := scheduler.Stop(shutdownGrace); err != nil {
		logger.Warn("scheduler shutdown", "error", err)
	}
	if err := dispatcher.Stop(shutdownGrace); err != nil {
		logger.Warn("dispatcher shutdown", "error", err)
	}
	return nil
}

// pruneLoop bounds the in-memory limiter: entries idle for two full quota
// windows can no longer affect any decision.
func pruneLoop(ctx context.Context, l *ratelimit.Limiter, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Prune(2 * ratelimit.Window); removed > 0 {
				logger.Debug("pruned rate-limit entries", "removed", removed)
			}
		}
	}
}
