package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/api"
	"github.com/negotiate-network/negotiate/internal/app/executor"
	"github.com/negotiate-network/negotiate/internal/app/importer"
	"github.com/negotiate-network/negotiate/internal/app/payment"
	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/filestore"
	"github.com/negotiate-network/negotiate/internal/infra/gateway"
	"github.com/negotiate-network/negotiate/internal/infra/notify"
	"github.com/negotiate-network/negotiate/internal/infra/sqlite"
)

// shutdownTimeout bounds the HTTP drain on stop.
const shutdownTimeout = 15 * time.Second

// Daemon owns every long-lived component of a negotiate process.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Files    *filestore.Store
	Gateways *gateway.Registry
	Notifier *notify.Dispatcher
	Jobs     *executor.Executor
	Payments *payment.Orchestrator
	Sweeper  *payment.Sweeper
	Importer *importer.Reconciler

	log *zap.Logger
}

// New opens storage and wires the services. The caller must Close it.
func New(cfg Config, log *zap.Logger) (*Daemon, error) {
	return newDaemon(cfg, log, clockz.RealClock, nil)
}

// newDaemon lets tests swap the clock and the gateway set.
func newDaemon(cfg Config, log *zap.Logger, clock clockz.Clock, gateways *gateway.Registry) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, err
	}
	files := filestore.New(cfg.Storage.DataDir)
	if err := files.Init(); err != nil {
		db.Close()
		return nil, err
	}
	if gateways == nil {
		gateways = gateway.NewDefaultRegistry(cfg.GatewayClientConfig(), log)
	}

	notifier := notify.NewDispatcher(cfg.NotifyDispatcherConfig(), db, db, senders(cfg.Notify, log), log)
	jobs := executor.New(cfg.ExecutorConfig(), db, clock, log)
	payments := payment.NewOrchestrator(payment.Deps{
		Charges:   db,
		Payments:  db,
		Consumers: db,
		Gateways:  gateways,
		Notifier:  notifier,
		Clock:     clock,
		Log:       log,
	})
	imports := importer.New(cfg.ImporterConfig(), importer.Deps{
		Batches:       db,
		Consumers:     db,
		Files:         files,
		Notifier:      notifier,
		Deactivations: notifier,
		Clock:         clock,
		Log:           log,
	})
	jobs.RegisterBackend(domain.JobCharge, payments)
	jobs.RegisterBackend(domain.JobImport, imports)

	return &Daemon{
		Config:   cfg,
		DB:       db,
		Files:    files,
		Gateways: gateways,
		Notifier: notifier,
		Jobs:     jobs,
		Payments: payments,
		Sweeper:  payment.NewSweeper(db, jobs, clock, log, cfg.Jobs.SweepLimit),
		Importer: imports,
		log:      log.Named("daemon"),
	}, nil
}

// senders picks a webhook per channel when an endpoint is configured and
// falls back to logging the message.
func senders(cfg NotifyConfig, log *zap.Logger) map[domain.Channel]notify.Sender {
	timeout := duration(cfg.Timeout)
	pick := func(endpoint string) notify.Sender {
		if endpoint == "" {
			return notify.NewLogSender(log)
		}
		return notify.NewWebhookSender(endpoint, timeout)
	}
	return map[domain.Channel]notify.Sender{
		domain.ChannelEmail: pick(cfg.EmailEndpoint),
		domain.ChannelSMS:   pick(cfg.SMSEndpoint),
	}
}

// Start launches the notification worker.
func (d *Daemon) Start(ctx context.Context) {
	d.Notifier.Start(ctx)
}

// Handler builds the HTTP API over the daemon's services.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(api.Deps{
		Charges: d.DB,
		Actions: d.Payments,
		Sweeper: d.Sweeper,
		Uploads: d.Importer,
		Jobs:    d.Jobs,
		Batches: d.DB,
		Files:   d.Files,
		Log:     d.log,
	})
	if d.Config.Metrics.Enabled {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

// Serve runs the HTTP API and the due-charge sweep until ctx is cancelled,
// then drains in-flight requests.
func (d *Daemon) Serve(ctx context.Context) error {
	d.Start(ctx)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go d.Sweeper.Run(sweepCtx, d.Config.SweepInterval())

	httpSrv := &http.Server{
		Addr:              d.Config.API.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		d.log.Info("listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", httpSrv.Addr, err)
	case <-ctx.Done():
	}

	d.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	return nil
}

// Close stops the job runner and the notifier, then releases storage.
func (d *Daemon) Close() error {
	d.Jobs.Shutdown()
	d.Notifier.Stop()
	return d.DB.Close()
}
