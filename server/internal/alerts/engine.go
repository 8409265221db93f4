package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stuckorders/stuckorders/server/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SessionID  string     `json:"session_id"`
	Severity   string     `json:"severity"`
	Metric     string     `json:"metric"`
	Condition  string     `json:"condition"`
	Threshold  float64    `json:"threshold"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

type rule struct {
	config.AlertRule
	cond Condition
}

// Engine evaluates alert rules against session metrics and delivers webhook
// notifications when rules fire or resolve. Engine is safe for concurrent use.
type Engine struct {
	rules    []rule
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "ruleName:sessionID"
	lastFire map[string]time.Time // for cooldown
	history  []*Alert             // resolved alerts
	client   *http.Client
	now      func() time.Time
}

// New creates an Engine from the alert configuration. Rules whose condition
// does not parse are logged and skipped. An Engine without rules is valid.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	for _, r := range cfg.Rules {
		c, err := ParseCondition(r.Condition)
		if err != nil {
			slog.Warn("alerts: skipping rule", "rule", r.Name, "err", err)
			continue
		}
		if r.Cooldown <= 0 {
			r.Cooldown = defaultCooldown
		}
		if r.Severity == "" {
			r.Severity = "warning"
		}
		e.rules = append(e.rules, rule{AlertRule: r, cond: c})
	}
	return e
}

// Evaluate tests every rule against the metrics of one session analysis.
// Newly firing alerts respect the rule cooldown; firing alerts whose
// condition no longer holds are resolved.
func (e *Engine) Evaluate(sessionID string, metrics map[string]float64) {
	if len(e.rules) == 0 {
		return
	}

	var notify []Alert
	e.mu.Lock()
	now := e.now()
	for _, r := range e.rules {
		key := r.Name + ":" + sessionID
		fires, value := r.cond.Eval(metrics)

		if fires {
			if _, firing := e.active[key]; firing {
				e.active[key].Value = value
				continue
			}
			if last, ok := e.lastFire[key]; ok && now.Sub(last) <= r.Cooldown {
				continue
			}
			a := &Alert{
				ID:        uuid.NewString(),
				RuleName:  r.Name,
				SessionID: sessionID,
				Severity:  r.Severity,
				Metric:    r.cond.Metric,
				Condition: r.cond.String(),
				Threshold: r.cond.Threshold,
				Value:     value,
				Message: fmt.Sprintf("[%s] %s fired on session %s: %s (value %.2f)",
					r.Severity, r.Name, sessionID, r.cond, value),
				FiredAt: now,
				State:   StateFiring,
			}
			e.active[key] = a
			e.lastFire[key] = now
			notify = append(notify, *a)
			slog.Warn("alerts: alert fired",
				"rule", r.Name, "session", sessionID, "value", value, "severity", r.Severity)
			continue
		}

		if a, ok := e.active[key]; ok {
			e.resolve(key, a, now)
			notify = append(notify, *a)
			slog.Info("alerts: alert resolved", "rule", r.Name, "session", sessionID)
		}
	}
	e.mu.Unlock()

	for i := range notify {
		go e.deliver(&notify[i])
	}
}

// Forget resolves every firing alert of a session that no longer exists.
func (e *Engine) Forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now()
	for key, a := range e.active {
		if a.SessionID == sessionID {
			e.resolve(key, a, now)
		}
	}
}

// resolve must be called with e.mu held.
func (e *Engine) resolve(key string, a *Alert, now time.Time) {
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FiredAt.Equal(out[j].FiredAt) {
			return out[i].FiredAt.After(out[j].FiredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
