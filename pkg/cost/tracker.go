package cost

import (
	"sort"
	"sync"
	"time"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/metrics"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/types"
)

// Dimension names an aggregation axis for spend queries.
type Dimension string

const (
	DimTenant   Dimension = "tenant"
	DimUser     Dimension = "user"
	DimProject  Dimension = "project"
	DimBuild    Dimension = "build"
	DimProvider Dimension = "provider"
	DimModel    Dimension = "model"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

type dayKey struct {
	day string
	dim Dimension
	id  string
}

// Tracker accumulates per-day and per-month spend aggregates from call
// records. Aggregates are incremental; no record scan is needed to
// answer a limit check.
type Tracker struct {
	mu sync.Mutex

	day      map[dayKey]float64
	dayTotal map[string]float64 // all spend per day
	month    map[string]float64 // all spend per month
	build    map[string]float64 // lifetime spend per build

	retentionDays int
	now           func() time.Time
}

// NewTracker creates a tracker keeping per-day aggregates for
// retentionDays days.
func NewTracker(retentionDays int) *Tracker {
	if retentionDays < 1 {
		retentionDays = 30
	}
	return &Tracker{
		day:           make(map[dayKey]float64),
		dayTotal:      make(map[string]float64),
		month:         make(map[string]float64),
		build:         make(map[string]float64),
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Record folds one call record into the aggregates. Cached hits carry
// zero cost and are effectively no-ops.
func (t *Tracker) Record(rec *types.CallRecord) {
	if rec == nil || rec.CostUSD == 0 {
		return
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	day := ts.UTC().Format(dayLayout)
	month := ts.UTC().Format(monthLayout)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dayTotal[day] += rec.CostUSD
	t.month[month] += rec.CostUSD
	if rec.BuildID != "" {
		t.build[rec.BuildID] += rec.CostUSD
	}

	add := func(dim Dimension, id string) {
		if id != "" {
			t.day[dayKey{day: day, dim: dim, id: id}] += rec.CostUSD
		}
	}
	add(DimTenant, rec.TenantID)
	add(DimUser, rec.UserID)
	add(DimProject, rec.ProjectID)
	add(DimBuild, rec.BuildID)
	add(DimProvider, rec.Provider)
	add(DimModel, rec.Model)

	metrics.CostUSDTotal.WithLabelValues(rec.Provider, rec.Model).Add(rec.CostUSD)
}

// DayTotal returns spend for one dimension value on one day.
func (t *Tracker) DayTotal(day time.Time, dim Dimension, id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.day[dayKey{day: day.UTC().Format(dayLayout), dim: dim, id: id}]
}

// TodayTotal returns all spend for the current day.
func (t *Tracker) TodayTotal() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dayTotal[t.now().UTC().Format(dayLayout)]
}

// MonthTotal returns all spend for the current month.
func (t *Tracker) MonthTotal() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.month[t.now().UTC().Format(monthLayout)]
}

// BuildTotal returns the lifetime spend of one build.
func (t *Tracker) BuildTotal(buildID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.build[buildID]
}

// Row is one result of a grouped spend query.
type Row struct {
	Day     string  `json:"day"`
	ID      string  `json:"id"`
	CostUSD float64 `json:"costUsd"`
}

// Query returns per-day spend grouped by the given dimension, most
// recent day first, restricted to [from, to] inclusive.
func (t *Tracker) Query(dim Dimension, from, to time.Time) []Row {
	t.mu.Lock()
	defer t.mu.Unlock()

	fromDay := from.UTC().Format(dayLayout)
	toDay := to.UTC().Format(dayLayout)

	var rows []Row
	for k, v := range t.day {
		if k.dim != dim {
			continue
		}
		if k.day < fromDay || k.day > toDay {
			continue
		}
		rows = append(rows, Row{Day: k.day, ID: k.id, CostUSD: v})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Day != rows[j].Day {
			return rows[i].Day > rows[j].Day
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

// Prune drops per-day aggregates older than the retention window.
// Month and build aggregates are kept.
func (t *Tracker) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().UTC().AddDate(0, 0, -t.retentionDays).Format(dayLayout)
	removed := 0
	for k := range t.day {
		if k.day < cutoff {
			delete(t.day, k)
			removed++
		}
	}
	for day := range t.dayTotal {
		if day < cutoff {
			delete(t.dayTotal, day)
		}
	}
	return removed
}
