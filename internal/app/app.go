// Package app wires the delivery core together: session, both delivery
// channels, the dispatcher pipeline, storage, and the config manager.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"customeragent/internal/api"
	"customeragent/internal/config"
	"customeragent/internal/delivery"
	"customeragent/internal/eventbus"
	"customeragent/internal/model"
	"customeragent/internal/notify"
	"customeragent/internal/platform"
	"customeragent/internal/runtime/supervisor"
	"customeragent/internal/session"
	"customeragent/internal/storage"
	"customeragent/internal/worker"
	"customeragent/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sess   *session.Session
	client api.Client
	disp   *notify.Dispatcher
	sel    *delivery.Selector
	poller *delivery.Poller
	reg    *worker.Registrar
	mon    *platform.Monitor

	retention     *cron.Cron
	retentionDays int
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	retentionDays := 0
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		retentionDays = sc.RetentionDays
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	historyLimit := cfg.Notifier.HistoryLimit
	nstore := notify.NewStore(historyLimit, store, bus, log.With(logx.String("comp", "notify")))
	disp := notify.NewDispatcher(notify.Config{
		Sounds:          cfg.Notifier.Sounds,
		OSNotifications: cfg.Notifier.OSNotifications,
		AlertsPerSec:    cfg.Notifier.AlertsPerSec,
	}, nstore, nil, nil, nil, bus, log.With(logx.String("comp", "dispatch")))

	sess := session.New(bus, log.With(logx.String("comp", "session")))

	apiTimeout, err := config.ParseDurationOrDefault("server.timeout", cfg.Server.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(sess, apiTimeout)
	sess.SetVerifier(client.TestConnection)

	sel := delivery.NewSelector(bus, log.With(logx.String("comp", "selector")))

	pollInterval, err := config.ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, delivery.DefaultPollInterval)
	if err != nil {
		return nil, err
	}
	poller := delivery.NewPoller(client, sess, sel, disp, pollInterval, log.With(logx.String("comp", "poller")))

	wcfg, err := mapWorkerConfig(cfg)
	if err != nil {
		return nil, err
	}
	var rt worker.Runtime
	if cfg.Worker.Supported != nil && !*cfg.Worker.Supported {
		rt = worker.Unsupported()
	} else {
		// Each unit builds its own client over its own credential copy.
		rt = worker.NewGoRuntime(func(src api.CredentialSource) api.Client {
			return api.NewClient(src, apiTimeout)
		}, disp.Deliver, 0, log.With(logx.String("comp", "worker")))
	}
	reg := worker.NewRegistrar(wcfg, rt, sel, sess, bus, log.With(logx.String("comp", "registrar")))
	reg.SetClickHandler(func(ctx context.Context, n model.Notification) {
		disp.MarkRead(ctx, n.ID)
	})

	probeInterval, err := config.ParseDurationOrDefault("connectivity.probe_interval", cfg.Connectivity.ProbeInterval, platform.DefaultProbeInterval)
	if err != nil {
		return nil, err
	}
	mon := platform.NewMonitor(client, bus, probeInterval, log.With(logx.String("comp", "connectivity")))

	return &App{
		cfgPath:       cfgPath,
		cfgm:          cfgm,
		log:           log,
		logs:          logSvc,
		bus:           bus,
		store:         store,
		sess:          sess,
		client:        client,
		disp:          disp,
		sel:           sel,
		poller:        poller,
		reg:           reg,
		mon:           mon,
		retentionDays: retentionDays,
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	// Reload persisted history before anything delivers.
	if a.store != nil {
		if err := a.disp.Store().LoadRecent(a.sup.Context()); err != nil {
			a.log.Warn("history reload failed", logx.Err(err))
		}
	}

	a.reg.Start(a.sup.Context())

	a.sup.GoRestart("poller", a.poller.Run)
	a.sup.GoRestart("connectivity", a.mon.Run)
	a.sup.Go0("events", a.eventLoop)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)

	if a.store != nil && a.retentionDays > 0 {
		c := cron.New()
		days := a.retentionDays
		runCtx := a.sup.Context()
		_, _ = c.AddFunc("@daily", func() {
			cutoff := time.Now().AddDate(0, 0, -days)
			n, err := a.store.PruneOlderThan(runCtx, cutoff)
			if err != nil {
				a.log.Warn("retention prune failed", logx.Err(err))
				return
			}
			if n > 0 {
				a.log.Info("retention prune", logx.Int("removed", n))
			}
		})
		c.Start()
		a.retention = c
	}

	// Connect with the configured credentials. Failure is not fatal; the
	// event loop retries when connectivity comes back.
	cfg := a.cfgm.Get()
	a.connect(a.sup.Context(), cfg)

	a.log.Info("agent started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sup.Cancel()
	a.reg.Stop()
	if a.retention != nil {
		<-a.retention.Stop().Done()
		a.retention = nil
	}
	a.sess.Disconnect()

	if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("shutdown wait", logx.Err(err))
	}

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// connect attempts a session connect with the configured credentials.
func (a *App) connect(ctx context.Context, cfg *config.Config) {
	if cfg == nil || a.sess.Connected() {
		return
	}
	creds := session.Credentials{APIURL: cfg.Server.APIURL, APIKey: cfg.Server.APIKey}
	if err := a.sess.Connect(ctx, creds); err != nil {
		a.log.Warn("connect failed", logx.Err(err))
	}
}

// eventLoop routes platform and session signals to the components that act
// on them. All routing happens here so the components never call each other.
func (a *App) eventLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))

			switch e.Type {
			case eventbus.EventSessionConnected:
				a.reg.PushCredentials()
				a.reg.Register()
			case eventbus.EventSessionDisconnected:
				a.reg.OnDisconnected()
				a.sel.Reset()
			case eventbus.EventNetOnline:
				a.reg.OnOnline()
				a.connect(ctx, a.cfgm.Get())
			case eventbus.EventNetOffline:
				a.reg.OnOffline()
			case eventbus.EventPageVisible:
				a.reg.OnVisible()
			}
		}
	}
}

// reloadLoop applies config hot-reloads: logging settings take effect
// immediately, credential changes trigger a reconnect, everything else
// requires a restart and says so.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.logs.Apply(mapLogConfig(newCfg))
			a.disp.Apply(notify.Config{
				Sounds:          newCfg.Notifier.Sounds,
				OSNotifications: newCfg.Notifier.OSNotifications,
				AlertsPerSec:    newCfg.Notifier.AlertsPerSec,
			})

			if last != nil && (newCfg.Server.APIURL != last.Server.APIURL || newCfg.Server.APIKey != last.Server.APIKey) {
				a.log.Info("credentials changed; reconnecting")
				a.sess.Disconnect()
				a.connect(ctx, newCfg)
			}

			if last != nil && storageChanged(last.Storage, newCfg.Storage) {
				a.log.Warn("storage config changed; restart required for changes to take effect")
			}
			if last != nil && (newCfg.Poller.Interval != last.Poller.Interval || workerChanged(last.Worker, newCfg.Worker)) {
				a.log.Warn("worker/poller timing changed; restart required for changes to take effect")
			}

			last = newCfg
			a.log.Info("config reloaded")
		}
	}
}
