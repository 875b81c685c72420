package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/update"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run update cycles as one of several workers",
	Long: `Run update cycles as one of several workers sharing a repository.
The worker announces itself to the coordinator and skips packages
claimed by other live workers.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().Duration("interval", 10*time.Minute, "time between update cycles")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	interval, _ := cmd.Flags().GetDuration("interval")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	me := self()
	l := a.l.With("worker", me.Identifier)

	var announcers []workers.Announcer
	if cfg.Workers.Server != "" {
		announcers = append(announcers, workers.NewAPIClient(l, cfg.Workers.Server, me, cfg.Workers.Timeout))
	}

	var redisCoords []*workers.RedisCoordinator
	defer func() {
		for _, c := range redisCoords {
			c.Close()
		}
	}()
	coordFor := func(id types.RepositoryID) (workers.Coordinator, error) {
		if cfg.Workers.Coordinator != "redis" {
			return nil, nil
		}
		c, err := workers.NewRedisCoordinator(l, cfg.Workers.RedisURL, id, me, cfg.Workers.TTL, cfg.Workers.Timeout)
		if err != nil {
			return nil, err
		}
		// Each coordinator renews the claims of its own repository.
		announcers = append(announcers, c)
		redisCoords = append(redisCoords, c)
		return c, nil
	}

	updaters, err := a.updaters(ctx, coordFor)
	if err != nil {
		return err
	}
	if len(announcers) == 0 {
		l.Warn("No coordinator configured, running without claims")
	}
	for _, an := range announcers {
		go workers.Heartbeat(ctx, l, an, cfg.Workers.Heartbeat)
	}
	if len(redisCoords) > 0 {
		if peers, err := redisCoords[0].Workers(ctx); err != nil {
			l.Warn("Unable to list peers", "error", err)
		} else {
			l.Info("Joined workers", "peers", len(peers))
		}
	}

	runCycles(ctx, l, updaters, update.Request{AUR: true, Local: true, Manual: true}, interval)
	return nil
}
