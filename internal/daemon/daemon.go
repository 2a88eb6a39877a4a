// Package daemon wires the watchdog process: scheduling, workers,
// transports and the admin surface.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tastamat/fandomon/internal/config"
	"github.com/tastamat/fandomon/internal/domain"
	"github.com/tastamat/fandomon/internal/infra"
	"github.com/tastamat/fandomon/internal/usecase"
)

const (
	mqttReconcileInterval = 30 * time.Second
	mqttBackoffStart      = time.Second
	mqttBackoffMax        = time.Minute
	retentionInterval     = 24 * time.Hour
	restTimeout           = 15 * time.Second
)

// Components is the wired object graph. The CLI uses it for one-shot
// operations; Daemon.Run drives it as a long-lived process.
type Components struct {
	Store     *infra.Store
	Recorder  *usecase.EventRecorder
	Detector  *usecase.ForegroundDetector
	Recovery  *usecase.RecoveryOrchestrator
	Health    *usecase.HealthEngine
	Status    *usecase.StatusReporter
	Sync      *usecase.SyncDispatcher
	Commands  *usecase.CommandProcessor
	States    *usecase.DeviceStateWatcher
	Retention *usecase.RetentionPolicy
	Scheduler *AlarmScheduler
	Workers   *Workers
	Admin     *AdminServer
	MQTT      *infra.MQTTSink
	Heartbeat *infra.HeartbeatWatcher
}

// Build wires every component over store. Tasks started by the worker pool
// receive ctx.
func Build(ctx context.Context, opts config.Options, store *infra.Store, logger *zap.Logger) (*Components, error) {
	c := &Components{Store: store}

	runner := infra.NewCommandRunner()
	procs := infra.NewProcTable()
	shell := infra.NewAndroidShell(runner, procs, logger.Named("shell"))
	usage := infra.NewDumpsysUsageSource(runner)
	assist := infra.NewSpoolLaunchAssist(opts.AssistSpoolDir, opts.AssistHelperProcess, store, procs, logger.Named("assist"))
	internet := infra.NewInternetProbe(opts.InternetProbeAddr)

	var heartbeat domain.Heartbeat
	if hb, err := infra.NewHeartbeatWatcher(logger.Named("heartbeat")); err != nil {
		logger.Warn("heartbeat watcher unavailable, freeze detection uses file times only", zap.Error(err))
	} else {
		c.Heartbeat = hb
		heartbeat = hb
	}

	timings := usecase.DefaultRecoveryTimings()
	c.Recorder = usecase.NewEventRecorder(store, logger.Named("events"))
	c.Detector = usecase.NewForegroundDetector(usage, opts.SelfPackage, logger.Named("foreground"))
	c.Recovery = usecase.NewRecoveryOrchestrator(usecase.RecoveryStages{
		Assist: usecase.NewAssistStage(assist, c.Detector, timings, logger.Named("recovery")),
		Shell:  usecase.NewShellStage(shell, store, c.Detector, timings, logger.Named("recovery")),
		Intent: usecase.NewIntentStage(shell, c.Detector, timings, logger.Named("recovery")),
		Notify: usecase.NewNotifyStage(shell, logger.Named("recovery")),
	}, shell, c.Recorder, timings, logger.Named("recovery"))
	c.Health = usecase.NewHealthEngine(store, c.Detector, heartbeat, c.Recovery, c.Recorder, logger.Named("health"))
	c.Status = usecase.NewStatusReporter(c.Detector, internet)

	c.MQTT = infra.NewMQTTSink()
	rest := infra.NewRESTSink(&http.Client{Timeout: restTimeout}, logger.Named("rest"))
	c.Sync = usecase.NewSyncDispatcher(store, store, c.Status, []domain.Sink{c.MQTT, rest}, logger.Named("sync"))

	c.Workers = NewWorkers(ctx, opts.Workers, logger.Named("workers"))
	c.Scheduler = NewAlarmScheduler(infra.NewAlarmClock(logger.Named("alarm")), store, c.Workers,
		func(ctx context.Context) {
			c.Health.CheckStatus(ctx)
			c.Sync.RequestSync()
		},
		func(context.Context) {
			c.Sync.RequestStatus()
		},
		logger.Named("scheduler"))

	self, err := NewRelauncher(logger.Named("relaunch"))
	if err != nil {
		return nil, err
	}
	c.Commands = usecase.NewCommandProcessor(usecase.CommandDeps{
		Config:    store,
		Events:    store,
		Recorder:  c.Recorder,
		Restarter: c.Recovery,
		Scheduler: c.Scheduler,
		Sync:      c.Sync,
		Self:      self,
		Runner:    c.Workers,
	}, logger.Named("commands"))

	c.States = usecase.NewDeviceStateWatcher([]domain.StateProbe{
		internet,
		infra.NewPowerProbe(),
		infra.NewScreenProbe(runner),
	}, c.Recorder, logger.Named("device"))
	c.Retention = usecase.NewRetentionPolicy(store, store, logger.Named("retention"))
	token, err := infra.ResolveAdminToken(opts.DataDir)
	if err != nil {
		return nil, err
	}
	c.Admin = NewAdminServer(opts.AdminAddr, token, store, store, c.Status, c.Commands, logger.Named("admin"))
	return c, nil
}

// Daemon is the long-running watchdog process.
type Daemon struct {
	opts   config.Options
	c      *Components
	logger *zap.Logger

	startMonitoring bool
	mqttCancel      context.CancelFunc
}

// New creates a daemon over wired components. When startMonitoring is set
// monitoring is switched on at boot regardless of the stored flag.
func New(opts config.Options, c *Components, startMonitoring bool, logger *zap.Logger) *Daemon {
	return &Daemon{opts: opts, c: c, logger: logger, startMonitoring: startMonitoring}
}

// Run boots the watchdog and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	settings, err := d.boot(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("watchdog started",
		zap.String("device_id", settings.DeviceID),
		zap.String("device_name", settings.DeviceName),
		zap.String("target", settings.TargetPackage),
		zap.Bool("monitoring", settings.MonitoringActive),
		zap.Int("pid", os.Getpid()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { d.c.Sync.Run(gctx); return nil })
	g.Go(func() error { d.superviseMQTT(gctx); return nil })
	g.Go(func() error { d.c.States.Run(gctx, d.opts.ProbeInterval); return nil })
	g.Go(func() error { d.purgeLoop(gctx); return nil })
	g.Go(func() error {
		if err := d.c.Admin.Run(gctx); err != nil {
			d.logger.Error("admin server stopped", zap.Error(err))
		}
		return nil
	})
	if d.c.Heartbeat != nil {
		g.Go(func() error { d.c.Heartbeat.Run(gctx); return nil })
	}

	// Deliver whatever was queued while the process was down.
	d.c.Sync.RequestSync()

	err = g.Wait()
	d.shutdown()
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

// boot establishes identity, applies provisioning, records startup and
// resumes monitoring.
func (d *Daemon) boot(ctx context.Context) (domain.Settings, error) {
	settings, err := d.c.Store.Update(ctx, func(s *domain.Settings) error {
		if s.DeviceID == "" {
			s.DeviceID = uuid.NewString()
		}
		if s.DeviceName == "" {
			if host, err := os.Hostname(); err == nil {
				s.DeviceName = host
			}
		}
		if d.startMonitoring {
			s.MonitoringActive = true
		}
		return nil
	})
	if err != nil {
		return domain.Settings{}, fmt.Errorf("initialize settings: %w", err)
	}

	if provisioned, err := d.provision(ctx); err != nil {
		d.logger.Error("provisioning failed", zap.String("file", d.opts.ProvisionFile), zap.Error(err))
	} else if provisioned != nil {
		settings = *provisioned
	}

	d.c.Recorder.Record(ctx, domain.EventWatchdogStarted,
		fmt.Sprintf("Watchdog started (pid %d, monitoring %t)", os.Getpid(), settings.MonitoringActive))

	if settings.MonitoringActive {
		if err := d.c.Scheduler.Schedule(ctx, settings.CheckInterval(), settings.StatusInterval()); err != nil {
			return domain.Settings{}, fmt.Errorf("schedule monitoring: %w", err)
		}
	}
	return settings, nil
}

// provision applies the provisioning file once and renames it so later
// boots keep remote changes.
func (d *Daemon) provision(ctx context.Context) (*domain.Settings, error) {
	path := d.opts.ProvisionFile
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	var applied []string
	settings, err := d.c.Store.Update(ctx, func(s *domain.Settings) error {
		keys, err := infra.ImportSettingsFile(path, s)
		applied = keys
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := os.Rename(path, path+".applied"); err != nil {
		d.logger.Warn("could not mark provisioning file applied", zap.Error(err))
	}
	d.logger.Info("provisioning applied", zap.String("file", path), zap.Strings("keys", applied))
	return &settings, nil
}

// superviseMQTT keeps the attached MQTT client in line with the broker
// settings until ctx is done.
func (d *Daemon) superviseMQTT(ctx context.Context) {
	ticker := time.NewTicker(mqttReconcileInterval)
	defer ticker.Stop()
	for {
		d.reconcileMQTT(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) reconcileMQTT(ctx context.Context) {
	settings, err := d.c.Store.Load(ctx)
	if err != nil {
		d.logger.Warn("mqtt: cannot read settings", zap.Error(err))
		return
	}
	current := d.c.MQTT.Client()

	if !d.c.MQTT.Enabled(settings) {
		if current != nil {
			d.logger.Info("mqtt disabled, disconnecting")
			d.detachMQTT()
		}
		return
	}

	want := infra.MQTTConfigFromSettings(settings)
	if current != nil && sameMQTTConfig(current.Config(), want) {
		return
	}

	d.detachMQTT()
	client := infra.NewMQTTClient(want, func(topic string, payload []byte) {
		d.c.Commands.HandleMessage("mqtt:"+topic, payload)
	}, d.logger.Named("mqtt"))
	d.c.MQTT.Attach(client)

	connectCtx, cancel := context.WithCancel(ctx)
	d.mqttCancel = cancel
	go func() {
		if err := client.ConnectWithBackoff(connectCtx, mqttBackoffStart, mqttBackoffMax); err != nil {
			return
		}
		// Flush the backlog as soon as the broker is reachable.
		d.c.Sync.RequestSync()
	}()
}

func (d *Daemon) detachMQTT() {
	if d.mqttCancel != nil {
		d.mqttCancel()
		d.mqttCancel = nil
	}
	if prev := d.c.MQTT.Attach(nil); prev != nil {
		prev.Disconnect()
	}
}

func sameMQTTConfig(a, b infra.MQTTConfig) bool {
	return a.BrokerURL == b.BrokerURL &&
		a.ClientID == b.ClientID &&
		a.Username == b.Username &&
		a.Password == b.Password &&
		slices.Equal(a.CommandTopics, b.CommandTopics)
}

func (d *Daemon) purgeLoop(ctx context.Context) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		if _, err := d.c.Retention.PurgeExpired(ctx); err != nil {
			d.logger.Warn("retention purge failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) shutdown() {
	d.c.Scheduler.CancelAll()
	d.detachMQTT()
	d.c.Workers.Wait()
	d.logger.Info("watchdog stopped")
}
