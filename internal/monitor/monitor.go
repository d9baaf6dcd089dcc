// Package monitor wraps the external observability services a worker
// pings around a job run (spec.md §4.F): a Cronitor-style heartbeat API
// and a Slack-style webhook poster. Both are advisory: a disabled toggle
// or a network failure is logged and swallowed, never escalated, matching
// the original Cronitor/Slack wrappers in monitor.py.
package monitor

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Cronitor pings a Cronitor-shaped heartbeat endpoint at job run/complete/fail.
type Cronitor struct {
	Enabled bool
	URLTmpl string // e.g. "https://cronitor.link/{cronitor_id}/{end_point}"
	Client  *http.Client
	Logger  *slog.Logger
}

func NewCronitor(enabled bool, urlTmpl string, logger *slog.Logger) *Cronitor {
	return &Cronitor{
		Enabled: enabled,
		URLTmpl: urlTmpl,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Logger:  orDefault(logger),
	}
}

func (c *Cronitor) Run(ctx context.Context, cronitorID, msg string) { c.ping(ctx, cronitorID, "run", msg) }
func (c *Cronitor) Complete(ctx context.Context, cronitorID, msg string) {
	c.ping(ctx, cronitorID, "complete", msg)
}
func (c *Cronitor) Fail(ctx context.Context, cronitorID, msg string) {
	c.ping(ctx, cronitorID, "fail", msg)
}

func (c *Cronitor) ping(ctx context.Context, cronitorID, endpoint, msg string) {
	if !c.Enabled {
		c.Logger.Warn("cronitor request ignored, disabled")
		return
	}
	target := strings.NewReplacer("{cronitor_id}", cronitorID, "{end_point}", endpoint).Replace(c.URLTmpl)
	if msg != "" {
		u, err := url.Parse(target)
		if err == nil {
			q := u.Query()
			q.Set("msg", msg)
			u.RawQuery = q.Encode()
			target = u.String()
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		c.Logger.Warn("cronitor request build failed", "error", err)
		return
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		c.Logger.Warn("cronitor request failed", "url", target, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.Logger.Warn("cronitor request failed", "url", target, "status", resp.StatusCode)
	}
}

// Slack posts plain-text notifications to a Slack-style incoming webhook,
// splitting overlong messages the same way the original chunks at 12000
// characters to dodge an old openssl/urllib3 payload-size bug.
type Slack struct {
	Enabled        bool
	URL            string
	Token          string
	DefaultChannel string
	Client         *http.Client
	Logger         *slog.Logger
}

const slackChunkSize = 12000

func NewSlack(enabled bool, webhookURL, token, defaultChannel string, logger *slog.Logger) *Slack {
	return &Slack{
		Enabled:        enabled,
		URL:            webhookURL,
		Token:          token,
		DefaultChannel: defaultChannel,
		Client:         &http.Client{Timeout: 7 * time.Second},
		Logger:         orDefault(logger),
	}
}

func (s *Slack) Post(ctx context.Context, message, channel string) {
	if !s.Enabled {
		s.Logger.Warn("slack request ignored, disabled")
		return
	}
	if channel == "" {
		channel = s.DefaultChannel
	}
	q := url.Values{}
	q.Set("token", s.Token)
	q.Set("channel", "#"+channel)
	channelURL := s.URL + "?" + q.Encode()

	for _, chunk := range chunks(message, slackChunkSize) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, channelURL, strings.NewReader(chunk))
		if err != nil {
			s.Logger.Warn("slack request build failed", "error", err)
			return
		}
		resp, err := s.Client.Do(req)
		if err != nil {
			s.Logger.Warn("slack request failed", "error", err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.Logger.Warn("slack request failed", "status", resp.StatusCode)
			return
		}
	}
}

// chunks splits s into pieces of at most n runes-as-bytes, matching the
// original's byte-chunked encode-then-POST loop.
func chunks(s string, n int) []string {
	if len(s) <= n {
		return []string{s}
	}
	var out []string
	for len(s) > 0 {
		end := n
		if end > len(s) {
			end = len(s)
		}
		out = append(out, s[:end])
		s = s[end:]
	}
	return out
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
