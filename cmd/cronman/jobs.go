package main

import (
	"log/slog"

	"github.com/loykin/cronman/internal/registry"
	"github.com/loykin/cronman/internal/scheduler"
)

// registerJobs is the compiled-in job class registry (spec.md §9's "cron
// jobs module auto-discovery", done at build time rather than via a
// dynamically-loaded module reference — Go has no runtime code loading).
// A deployment forks this file and Registers its own job classes here
// before Freeze is called in newApp.
func registerJobs(reg *registry.Registry) {
	reg.Register(registry.Entry{
		Name: "HealthCheck",
		Doc:  "Pings configured health endpoints and records the result.",
		Run: func(args []string, kwargs map[string]string) error {
			slog.Info("HealthCheck ran", "args", args, "kwargs", kwargs)
			return nil
		},
		LockRegime:        registry.LockClass,
		LockCheckAttempts: 1,
		CronitorPingRun:   true,
		CronitorPingFail:  true,
	})
}

// scheduleTable is the compiled-in (cron expression, job spec) table
// (spec.md §9's schedule table half of the jobs-module resolution). A
// deployment extends this alongside registerJobs.
func scheduleTable() []scheduler.Entry {
	return []scheduler.Entry{
		{Expr: "*/5 * * * *", JobSpec: "HealthCheck:"},
	}
}
