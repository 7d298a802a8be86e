package cost

import (
	"fmt"
	"sync"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/errdefs"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Alert reports a budget threshold crossing. Threshold is 0.8 or 1.0.
type Alert struct {
	Scope     string  `json:"scope"` // daily, monthly, build, user, tenant
	ID        string  `json:"id,omitempty"`
	Threshold float64 `json:"threshold"`
	Limit     float64 `json:"limit"`
	SpentUSD  float64 `json:"spentUsd"`
}

// AlertFunc receives threshold alerts. Called outside the controller
// lock.
type AlertFunc func(Alert)

// Controller enforces the configured spend limits. Admission checks run
// before a call is made; threshold alerts fire after completion. An
// emergency stop denies everything until resumed.
type Controller struct {
	cfg     config.CostConfig
	tracker *Tracker
	onAlert AlertFunc

	mu      sync.Mutex
	stopped bool
	alerted map[string]bool // scope:id:threshold, fired at most once
}

// NewController creates a controller over the tracker. onAlert may be
// nil.
func NewController(cfg config.CostConfig, tracker *Tracker, onAlert AlertFunc) *Controller {
	return &Controller{
		cfg:     cfg,
		tracker: tracker,
		onAlert: onAlert,
		alerted: make(map[string]bool),
	}
}

// EmergencyStop denies all subsequent admissions. Actor and reason are
// recorded for the audit trail.
func (c *Controller) EmergencyStop(actor, reason string) {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	log.WithComponent("cost").Warn().
		Str("actor", actor).
		Str("reason", reason).
		Msg("Emergency stop engaged, all model calls denied")
}

// EmergencyResume lifts the emergency stop.
func (c *Controller) EmergencyResume(actor string) {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
	log.WithComponent("cost").Info().Str("actor", actor).Msg("Emergency stop lifted")
}

// Stopped reports whether the emergency stop is engaged.
func (c *Controller) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// AdmitBuild checks whether a new build may start at all.
func (c *Controller) AdmitBuild(cc types.CallContext) error {
	return c.admit(cc, 0)
}

// AdmitCall checks whether one more model call with the given cost
// estimate fits within every applicable limit.
func (c *Controller) AdmitCall(cc types.CallContext, estimateUSD float64) error {
	return c.admit(cc, estimateUSD)
}

func (c *Controller) admit(cc types.CallContext, estimate float64) error {
	if c.Stopped() {
		return errdefs.New(errdefs.KindCostDenied, "emergency stop engaged")
	}

	today := c.tracker.TodayTotal()

	if over(today+estimate, c.cfg.EmergencyStopDaily) {
		c.EmergencyStop("system", "daily emergency threshold reached")
		return errdefs.Newf(errdefs.KindCostDenied,
			"daily spend %.2f would exceed emergency stop threshold %.2f", today+estimate, c.cfg.EmergencyStopDaily)
	}
	if over(today+estimate, c.cfg.DailyLimit) {
		return errdefs.Newf(errdefs.KindCostDenied,
			"daily spend %.2f would exceed limit %.2f", today+estimate, c.cfg.DailyLimit)
	}
	if month := c.tracker.MonthTotal(); over(month+estimate, c.cfg.MonthlyLimit) {
		return errdefs.Newf(errdefs.KindCostDenied,
			"monthly spend %.2f would exceed limit %.2f", month+estimate, c.cfg.MonthlyLimit)
	}
	if cc.BuildID != "" {
		if spent := c.tracker.BuildTotal(cc.BuildID); over(spent+estimate, c.cfg.PerBuildLimit) {
			return errdefs.Newf(errdefs.KindCostDenied,
				"build %s spend %.2f would exceed limit %.2f", cc.BuildID, spent+estimate, c.cfg.PerBuildLimit)
		}
	}
	if cc.UserID != "" {
		if spent := c.tracker.DayTotal(c.tracker.now(), DimUser, cc.UserID); over(spent+estimate, c.cfg.PerUserDaily) {
			return errdefs.Newf(errdefs.KindCostDenied,
				"user %s daily spend %.2f would exceed limit %.2f", cc.UserID, spent+estimate, c.cfg.PerUserDaily)
		}
	}
	if cc.TenantID != "" {
		if spent := c.tracker.DayTotal(c.tracker.now(), DimTenant, cc.TenantID); over(spent+estimate, c.cfg.PerTenantDaily) {
			return errdefs.Newf(errdefs.KindCostDenied,
				"tenant %s daily spend %.2f would exceed limit %.2f", cc.TenantID, spent+estimate, c.cfg.PerTenantDaily)
		}
	}
	return nil
}

func over(spend, limit float64) bool {
	return limit > 0 && spend > limit
}

// OnCallCompleted records the call and fires any newly crossed
// threshold alerts.
func (c *Controller) OnCallCompleted(rec *types.CallRecord) {
	c.tracker.Record(rec)

	var alerts []Alert
	check := func(scope, id string, spent, limit float64) {
		if limit <= 0 {
			return
		}
		for _, threshold := range []float64{0.8, 1.0} {
			if spent < limit*threshold {
				continue
			}
			key := fmt.Sprintf("%s:%s:%.1f", scope, id, threshold)
			c.mu.Lock()
			fired := c.alerted[key]
			if !fired {
				c.alerted[key] = true
			}
			c.mu.Unlock()
			if !fired {
				alerts = append(alerts, Alert{Scope: scope, ID: id, Threshold: threshold, Limit: limit, SpentUSD: spent})
			}
		}
	}

	check("daily", "", c.tracker.TodayTotal(), c.cfg.DailyLimit)
	check("monthly", "", c.tracker.MonthTotal(), c.cfg.MonthlyLimit)
	if rec != nil && rec.BuildID != "" {
		check("build", rec.BuildID, c.tracker.BuildTotal(rec.BuildID), c.cfg.PerBuildLimit)
	}
	if rec != nil && rec.UserID != "" {
		check("user", rec.UserID, c.tracker.DayTotal(c.tracker.now(), DimUser, rec.UserID), c.cfg.PerUserDaily)
	}
	if rec != nil && rec.TenantID != "" {
		check("tenant", rec.TenantID, c.tracker.DayTotal(c.tracker.now(), DimTenant, rec.TenantID), c.cfg.PerTenantDaily)
	}

	logger := log.WithComponent("cost")
	for _, a := range alerts {
		logger.Warn().
			Str("scope", a.Scope).
			Str("id", a.ID).
			Float64("threshold", a.Threshold).
			Float64("limit", a.Limit).
			Float64("spent", a.SpentUSD).
			Msg("Spend threshold crossed")
		if c.onAlert != nil {
			c.onAlert(a)
		}
	}
}
