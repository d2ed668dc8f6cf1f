package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"progresskit/core"
)

// AggregationPeriod represents different time periods for aggregation
type AggregationPeriod string

const (
	PeriodDaily   AggregationPeriod = "daily"
	PeriodWeekly  AggregationPeriod = "weekly"
	PeriodMonthly AggregationPeriod = "monthly"
)

// Report is one aggregated period.
type Report struct {
	Period         AggregationPeriod `json:"period"`
	Key            string            `json:"key"` // 2024-01-01, 2024-W01 or 2024-01
	StartTime      time.Time         `json:"start_time"`
	EndTime        time.Time         `json:"end_time"`
	ActiveLearners int               `json:"active_learners"`
	DayTotals
	CreatedAt time.Time `json:"created_at"`
}

// Aggregator rolls ProgressMetrics up into daily, weekly and monthly reports.
type Aggregator struct {
	mu      sync.RWMutex
	metrics *ProgressMetrics
	reports map[AggregationPeriod]map[string]Report
	log     *slog.Logger
	now     func() time.Time
}

func NewAggregator(metrics *ProgressMetrics, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{
		metrics: metrics,
		reports: map[AggregationPeriod]map[string]Report{
			PeriodDaily:   {},
			PeriodWeekly:  {},
			PeriodMonthly: {},
		},
		log: log,
		now: time.Now,
	}
}

// OnEvent forwards events to the underlying metrics.
func (a *Aggregator) OnEvent(e core.Event) { a.metrics.OnEvent(e) }

// Aggregate computes and stores the report of period containing at.
func (a *Aggregator) Aggregate(period AggregationPeriod, at time.Time) (Report, error) {
	at = at.UTC()
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	var r Report
	switch period {
	case PeriodDaily:
		r = Report{Key: DayKey(at), StartTime: dayStart, EndTime: dayStart.AddDate(0, 0, 1)}
		r.ActiveLearners = a.metrics.DailyActive(r.Key)
	case PeriodWeekly:
		offset := (int(at.Weekday()) + 6) % 7 // days since Monday
		start := dayStart.AddDate(0, 0, -offset)
		r = Report{Key: WeekKey(at), StartTime: start, EndTime: start.AddDate(0, 0, 7)}
		r.ActiveLearners = a.metrics.WeeklyActive(r.Key)
	case PeriodMonthly:
		start := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
		r = Report{Key: MonthKey(at), StartTime: start, EndTime: start.AddDate(0, 1, 0)}
		r.ActiveLearners = a.metrics.MonthlyActive(r.Key)
	default:
		return Report{}, fmt.Errorf("unknown aggregation period %q", period)
	}
	r.Period = period
	r.CreatedAt = a.now().UTC()

	a.metrics.mu.RLock()
	for d := r.StartTime; d.Before(r.EndTime); d = d.AddDate(0, 0, 1) {
		r.DayTotals.add(a.metrics.day(DayKey(d)))
	}
	a.metrics.mu.RUnlock()

	a.mu.Lock()
	a.reports[period][r.Key] = r
	a.mu.Unlock()
	return r, nil
}

// AggregateNow refreshes the current day, week and month.
func (a *Aggregator) AggregateNow() ([]Report, error) {
	now := a.now()
	out := make([]Report, 0, 3)
	for _, p := range []AggregationPeriod{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		r, err := a.Aggregate(p, now)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", p, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Report returns a stored report.
func (a *Aggregator) Report(period AggregationPeriod, key string) (Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.reports[period][key]
	return r, ok
}

// Run aggregates on every tick and hands the reports to exp until ctx ends.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration, exp Exporter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if exp != nil {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := exp.Flush(flushCtx); err != nil {
					a.log.Warn("analytics final flush failed", "error", err)
				}
				cancel()
			}
			return
		case <-ticker.C:
			reports, err := a.AggregateNow()
			if err != nil {
				a.log.Warn("analytics aggregation failed", "error", err)
				continue
			}
			if exp == nil {
				continue
			}
			for _, r := range reports {
				if err := exp.Export(ctx, r); err != nil {
					a.log.Warn("analytics export failed", "period", r.Period, "key", r.Key, "error", err)
				}
			}
		}
	}
}
