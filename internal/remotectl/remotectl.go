// Package remotectl implements RemoteControl (spec.md §4.E): a thin,
// advisory-only client over a shared Redis instance used to steer remote
// scheduler hosts — set/read a host's enabled/disabled status, and queue
// job specs to be killed on the next tick.
//
// Grounded on remote_manager.py's CronRemoteManager: every call degrades
// to a logged warning and a nil/zero result rather than failing the
// caller, and disabled-by-config behaves identically to a connection
// failure.
package remotectl

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
)

// Status is the value stored at a host's status key.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

// MaxKills bounds how many queued kill requests PopKilled drains in one
// call, so one runaway producer cannot make a single tick block forever
// (CronRemoteManager.MAX_KILLS).
const MaxKills = 5

// Control is a Redis-backed client for one logical fleet of scheduler
// hosts. All methods are safe to call even when Enabled is false or Redis
// is unreachable: they log and return the zero value.
type Control struct {
	client   *redis.Client
	hostName string
	enabled  bool
	logger   *slog.Logger
}

// New builds a Control bound to hostName (empty uses os.Hostname()).
// enabled=false makes every operation a no-op warning, matching the
// original's CRONMAN_REMOTE_MANAGER_ENABLED toggle.
func New(client *redis.Client, hostName string, enabled bool, logger *slog.Logger) *Control {
	if hostName == "" {
		if h, err := os.Hostname(); err == nil {
			hostName = h
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{client: client, hostName: hostName, enabled: enabled, logger: logger}
}

func statusKey(host string) string { return "cron_scheduler:status:" + host }
func killKey(host string) string   { return "cron_scheduler:kill:" + host }

// StatusKeyAll is the fleet-wide status key: Scheduler.Tick reads it with
// GetStatus(ctx, "ALL") before the host's own key and never deletes it.
func StatusKeyAll() string { return "cron_scheduler:status:ALL" }

func (c *Control) resolveHost(host string) string {
	if host == "" {
		return c.hostName
	}
	return host
}

// SetStatus sets a host's scheduler status.
func (c *Control) SetStatus(ctx context.Context, host string, status Status) {
	key := statusKey(c.resolveHost(host))
	c.call(ctx, "SET "+key+"="+string(status), func() error {
		return c.client.Set(ctx, key, string(status), 0).Err()
	})
}

// GetStatus retrieves a host's scheduler status, if any.
func (c *Control) GetStatus(ctx context.Context, host string) (status Status, ok bool) {
	key := statusKey(c.resolveHost(host))
	var val string
	found := false
	c.call(ctx, "GET "+key, func() error {
		v, err := c.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		val, found = v, true
		return nil
	})
	if !found {
		return "", false
	}
	return Status(val), true
}

// ClearStatus removes a host's scheduler status key.
func (c *Control) ClearStatus(ctx context.Context, host string) {
	key := statusKey(c.resolveHost(host))
	c.call(ctx, "DEL "+key, func() error {
		return c.client.Del(ctx, key).Err()
	})
}

// PopStatus retrieves and clears a host's scheduler status in one round
// trip from the caller's perspective (two Redis calls, matching the
// original's get-then-delete since Redis GETDEL requires 6.2+).
func (c *Control) PopStatus(ctx context.Context, host string) (status Status, ok bool) {
	status, ok = c.GetStatus(ctx, host)
	if ok {
		c.ClearStatus(ctx, host)
	}
	return status, ok
}

// RequestKill queues jobSpec to be killed by host's next scheduler tick.
func (c *Control) RequestKill(ctx context.Context, host, jobSpec string) {
	key := killKey(c.resolveHost(host))
	c.call(ctx, "RPUSH "+key+" "+jobSpec, func() error {
		return c.client.RPush(ctx, key, jobSpec).Err()
	})
}

// PopKilled drains up to MaxKills queued job specs for this host,
// deduplicating as a set (two identical kill requests queued in the same
// tick are the same request, not two).
func (c *Control) PopKilled(ctx context.Context) map[string]struct{} {
	key := killKey(c.hostName)
	out := make(map[string]struct{})
	for i := 0; i < MaxKills; i++ {
		var jobSpec string
		got := false
		c.call(ctx, "LPOP "+key, func() error {
			v, err := c.client.LPop(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				return nil
			}
			if err != nil {
				return err
			}
			jobSpec, got = v, true
			return nil
		})
		if !got {
			break
		}
		out[jobSpec] = struct{}{}
	}
	return out
}

// Disable asks host's scheduler to stop firing new jobs.
func (c *Control) Disable(ctx context.Context, host string) { c.SetStatus(ctx, host, StatusDisabled) }

// Enable asks host's scheduler to resume firing jobs.
func (c *Control) Enable(ctx context.Context, host string) { c.SetStatus(ctx, host, StatusEnabled) }

// call runs fn, logging failure or cancellation as a warning exactly like
// _redis_call: disabled and connection-error both degrade silently to the
// caller (no error is ever returned from Control's public methods).
func (c *Control) call(ctx context.Context, description string, fn func() error) {
	if !c.enabled {
		c.logger.Warn("remote control request cancelled, disabled in configuration", "op", description)
		return
	}
	if err := fn(); err != nil {
		c.logger.Warn("remote control request failed", "op", description, "error", err)
		return
	}
	c.logger.Info("remote control request ok", "op", description)
}
