package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/mwantia/fabric/pkg/container"

	config "github.com/merchantops/reconcile/internal/config"
	"github.com/merchantops/reconcile/internal/recovery"
	"github.com/merchantops/reconcile/pkg/log"
)

// Daemon runs the pipeline continuously: a periodic tick performs recovery
// and a batch run for the current business date.
type Daemon struct {
	mutex sync.RWMutex
	wait  sync.WaitGroup

	cfg      *config.BaseConfig
	sc       *container.ServiceContainer
	log      log.LoggerService
	runner   *Runner
	recovery *recovery.Manager
}

func NewDaemon(cfg *config.BaseConfig, runner *Runner, recov *recovery.Manager, logger log.LoggerService) *Daemon {
	return &Daemon{
		cfg:      cfg,
		sc:       container.NewServiceContainer(),
		log:      logger,
		runner:   runner,
		recovery: recov,
	}
}

func (d *Daemon) setupServices() error {
	errs := container.Errors{}

	d.log.Debug("Registering 'LoggerService'...")
	errs.Add(container.Register[log.LoggerServiceImpl](d.sc,
		container.With[log.LoggerService](),
		container.WithInstance(d.log)))

	return errs.Errors()
}

func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	d.mutex.Lock()

	if err := d.setupServices(); err != nil {
		d.mutex.Unlock()
		return err
	}

	d.mutex.Unlock()

	interval := config.Duration(d.cfg.Pipeline.Interval, 15*time.Minute)
	d.wait.Add(1)
	go func() {
		defer d.wait.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		d.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()

	<-ctx.Done()

	timeout, err := time.ParseDuration(d.cfg.ShutdownTimeout)
	if err != nil {
		// Set default of 60 seconds if error
		timeout = 60 * time.Second
	}

	shutdown, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := d.sc.Cleanup(shutdown); err != nil {
		return fmt.Errorf("failed to complete service container cleanup: %w", err)
	}

	d.wait.Wait()
	return nil
}

// tick repairs any inconsistent state first, then runs a batch for today.
func (d *Daemon) tick(ctx context.Context) {
	if report, err := d.recovery.RecoverStuck(ctx); err != nil {
		d.log.Error("Stuck-file recovery failed: %v", err)
	} else if report.Examined > 0 {
		d.log.Info("Recovery: %d examined, %d reset, %d resumed, %d failed",
			report.Examined, report.Reset, report.Resumed, report.Failed)
	}

	if report, err := d.recovery.Cleanup(ctx); err != nil {
		d.log.Error("Cleanup failed: %v", err)
	} else if report.FilesReset > 0 || report.OrphansRemoved > 0 {
		d.log.Info("Cleanup: %d file(s) reset, %d orphan(s) removed",
			report.FilesReset, report.OrphansRemoved)
	}

	today := time.Now().UTC()
	sum, err := d.runner.Run(ctx, today, today, false)
	if err != nil {
		d.log.Error("Batch run failed: %v", err)
		return
	}

	if sum.Found > 0 {
		d.log.Info("Run %s: found=%d downloaded=%d skipped=%d processed=%d failed=%d matched=%d unmatched=%d",
			sum.RunID, sum.Found, sum.Downloaded, sum.Skipped, sum.Processed, sum.Failed, sum.Matched, sum.Unmatched)
	}
}
