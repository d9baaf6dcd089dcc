// Command cronman is the external collaborator CLI named in spec.md §6:
// "scheduler run|disable|enable", "worker run|status|kill|clean|suspend|
// resume|info", and "remote enable|disable|kill [job-spec-or-pid]
// [--host H] [--wait]", grounded on
// cmd/provisr's cobra wiring.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/loykin/cronman/internal/config"
	"github.com/loykin/cronman/internal/fleet"
	histclickhouse "github.com/loykin/cronman/internal/history/clickhouse"
	"github.com/loykin/cronman/internal/logger"
	"github.com/loykin/cronman/internal/metrics"
	"github.com/loykin/cronman/internal/monitor"
	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/remotectl"
	"github.com/loykin/cronman/internal/scheduler"
	"github.com/loykin/cronman/internal/server"
	"github.com/loykin/cronman/internal/spawner"
	"github.com/loykin/cronman/internal/task"
	"github.com/loykin/cronman/internal/worker"
)

// app bundles every collaborator a subcommand might need, built once from
// the loaded Config and the process-compiled job registry.
type app struct {
	cfg        *config.Config
	reg        *registry.Registry
	spawner    *spawner.Spawner
	fleet      *fleet.Fleet
	remote     *remotectl.Control
	sched      *scheduler.Scheduler
	runtime    *worker.Runtime
	tasks      task.Store
	history    *histclickhouse.Sink
	logger     *slog.Logger
	metricsSrv *http.Server
	cronSrv    *http.Server
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	reg := registry.New()
	registerJobs(reg)
	reg.Freeze()

	binary, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve own executable: %w", err)
	}

	spEnv := spawner.Env{DataDir: cfg.DataDir, GlobalEnv: cfg.GlobalEnv}
	if cfg.Priority != nil {
		spEnv.NiceCmd = cfg.Priority.NiceCmd
		spEnv.IOniceCmd = cfg.Priority.IOniceCmd
		spEnv.ExceptionSinkCmd = cfg.Priority.ExceptionSinkCmd
	}
	var cronitor *monitor.Cronitor
	var slack *monitor.Slack
	if cfg.Monitor != nil {
		cronitor = monitor.NewCronitor(cfg.Monitor.CronitorEnabled, cfg.Monitor.CronitorURLTmpl, log)
		slack = monitor.NewSlack(cfg.Monitor.SlackEnabled, cfg.Monitor.SlackURL, cfg.Monitor.SlackToken, cfg.Monitor.SlackDefaultChannel, log)
		spEnv.CronitorEnabled = cfg.Monitor.CronitorEnabled
		spEnv.CronitorURL = cfg.Monitor.CronitorURLTmpl
		spEnv.SlackEnabled = cfg.Monitor.SlackEnabled
	}
	if cfg.Log != nil {
		spEnv.Log = &logger.Config{
			Dir:        cfg.Log.Dir,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	sp := spawner.New(binary, spEnv, log)

	var tasks task.Store
	if cfg.Task != nil {
		tasks, err = task.NewStore(task.Config{Driver: cfg.Task.Driver, Path: cfg.Task.Path, DSN: cfg.Task.DSN})
		if err != nil {
			return nil, fmt.Errorf("open task store: %w", err)
		}
		if err := tasks.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("ensure task schema: %w", err)
		}
	}

	fl := fleet.New(cfg.DataDir, sp, reg)

	var remote *remotectl.Control
	remoteEnabled := cfg.Remote != nil && cfg.Remote.Enabled
	if cfg.Remote != nil {
		var client *redis.Client
		if remoteEnabled {
			client = redis.NewClient(&redis.Options{
				Addr:     cfg.Remote.Addr,
				Password: cfg.Remote.Password,
				DB:       cfg.Remote.DB,
			})
		}
		remote = remotectl.New(client, cfg.HostName, remoteEnabled, log)
	} else {
		remote = remotectl.New(nil, cfg.HostName, false, log)
	}

	sched := scheduler.New(cfg.DataDir, scheduleTable(), sp, fl, reg, remote, log)
	runtime := worker.New(cfg.DataDir, reg, tasks, cronitor, slack, log)

	var histSink *histclickhouse.Sink
	if cfg.History != nil && cfg.History.Enabled {
		histSink, err = histclickhouse.New(cfg.History.Addr, cfg.History.Table)
		if err != nil {
			return nil, fmt.Errorf("open history sink: %w", err)
		}
		runtime.History = histSink
	}

	var metricsSrv *http.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	var cronSrv *http.Server
	if cfg.Server != nil && cfg.Server.Enabled {
		cronSrv = server.NewCronServer(cfg.Server.Listen, cfg.Server.BasePath, fl, remote)
		go func() {
			if err := cronSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("cron status/control server stopped", "error", err)
			}
		}()
	}

	return &app{
		cfg: cfg, reg: reg, spawner: sp, fleet: fl, remote: remote,
		sched: sched, runtime: runtime, tasks: tasks, history: histSink,
		logger: log, metricsSrv: metricsSrv, cronSrv: cronSrv,
	}, nil
}

func (a *app) close() {
	if a.tasks != nil {
		_ = a.tasks.Close()
	}
	if a.history != nil {
		_ = a.history.Close()
	}
	if a.metricsSrv != nil {
		_ = a.metricsSrv.Shutdown(context.Background())
	}
	if a.cronSrv != nil {
		_ = a.cronSrv.Shutdown(context.Background())
	}
}
