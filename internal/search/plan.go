package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/y3shua/honor-the-fallen/internal/fallen"
)

// Mode selects which dates a run searches.
type Mode string

const (
	// ModeDaily searches today's month and day in every year since StartYear.
	ModeDaily Mode = "daily"
	// ModeRecent searches the last RecentDays days.
	ModeRecent Mode = "recent"
	// ModeComprehensive searches StartDate through EndDate.
	ModeComprehensive Mode = "comprehensive"
	// ModeDate searches one explicit day.
	ModeDate Mode = "date"
)

const defaultRecentDays = 7

// ErrMissingRange is returned when the comprehensive mode has no dates.
var ErrMissingRange = errors.New("comprehensive search requires start and end dates")

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeDaily, ModeRecent, ModeComprehensive:
		return m, nil
	default:
		return "", fmt.Errorf("unknown search mode %q", s)
	}
}

// Plan is a resolved set of dates to search.
type Plan struct {
	Mode     Mode
	Month    time.Month
	Day      int
	FromYear int
	ToYear   int
	From     time.Time
	To       time.Time
}

// String describes the plan for logs.
func (p Plan) String() string {
	switch p.Mode {
	case ModeDaily:
		return fmt.Sprintf("%s %02d/%02d %d-%d", p.Mode, int(p.Month), p.Day, p.FromYear, p.ToYear)
	case ModeDate:
		return fmt.Sprintf("%s %s", p.Mode, p.From.Format("2006-01-02"))
	default:
		return fmt.Sprintf("%s %s..%s", p.Mode, p.From.Format("2006-01-02"), p.To.Format("2006-01-02"))
	}
}

// Plan resolves mode against today.
func (s *Searcher) Plan(mode Mode, today time.Time) (Plan, error) {
	today = midnight(today)
	switch mode {
	case ModeDaily:
		return Plan{
			Mode:     ModeDaily,
			Month:    today.Month(),
			Day:      today.Day(),
			FromYear: s.cfg.StartYear,
			ToYear:   today.Year(),
			From:     today,
			To:       today,
		}, nil
	case ModeRecent:
		return Plan{
			Mode: ModeRecent,
			From: today.AddDate(0, 0, -(s.cfg.RecentDays - 1)),
			To:   today,
		}, nil
	case ModeComprehensive:
		if s.cfg.StartDate.IsZero() || s.cfg.EndDate.IsZero() {
			return Plan{}, ErrMissingRange
		}
		if s.cfg.EndDate.Before(s.cfg.StartDate) {
			return Plan{}, fmt.Errorf("search end date %s precedes start date %s",
				s.cfg.EndDate.Format("2006-01-02"), s.cfg.StartDate.Format("2006-01-02"))
		}
		return Plan{Mode: ModeComprehensive, From: s.cfg.StartDate, To: s.cfg.EndDate}, nil
	default:
		return Plan{}, fmt.Errorf("unknown search mode %q", mode)
	}
}

// DatePlan searches a single day.
func DatePlan(date time.Time) Plan {
	date = midnight(date)
	return Plan{Mode: ModeDate, From: date, To: date}
}

// Run executes plan.
func (s *Searcher) Run(ctx context.Context, plan Plan) []fallen.BriefRecord {
	s.logger.Info("Starting search", zap.Stringer("plan", plan))
	switch plan.Mode {
	case ModeDaily:
		return s.SearchYears(ctx, plan.Month, plan.Day, plan.FromYear, plan.ToYear, plan.From.Location())
	case ModeDate:
		return s.SearchDate(ctx, plan.From)
	default:
		return s.SearchRange(ctx, plan.From, plan.To)
	}
}
