package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/blacktop/pagecast/internal/media"
	"github.com/blacktop/pagecast/internal/metrics"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/blacktop/pagecast/internal/seen"
	"github.com/blacktop/pagecast/internal/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var startAll bool

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the channel workers and the admin API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&startAll, "start-all", false, "Start every channel at boot, not only those marked autostart")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := seen.Open(cfg.SeenDB)
	if err != nil {
		return fmt.Errorf("open seen store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := &deps{
		cfg:     cfg,
		graph:   newGraph(cfg),
		images:  media.New(cfg.ImagesDir),
		seen:    store,
		metrics: metrics.New(reg),
		queues:  map[string]*queue.File{},
	}

	ctl := scheduler.NewController(
		scheduler.WithObserver(d.metrics),
		scheduler.WithObserver(scheduler.ReporterFunc(logStatus)),
	)
	if err := d.register(ctx, ctl); err != nil {
		return err
	}

	srv := server.New(server.Options{
		Controller: ctl,
		Queues:     d.queues,
		Images:     d.images,
		Gatherer:   reg,
	})

	for _, ch := range cfg.Channels {
		if !startAll && !ch.AutoStart {
			continue
		}
		if err := ctl.Start(ch.Name); err != nil {
			logutil.Warnf("autostart %s: %v", ch.Name, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.Listen)
	})
	g.Go(func() error {
		<-gctx.Done()
		logutil.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), ctl.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logutil.Infof("stopped cleanly")
	return nil
}

func logStatus(channel string, running bool, message, summary string) {
	log := logutil.With("channel", channel)
	if summary != "" {
		log.Debug(message, "running", running, "post", summary)
		return
	}
	log.Debug(message, "running", running)
}
