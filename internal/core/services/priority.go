package services

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/docintel/internal/core/domain"
)

// PriorityEngine computes explainable 0-100 priority scores from weighted
// factors. It is a pure function of its input and the injected clock.
type PriorityEngine struct {
	cfg domain.PriorityConfig
	now func() time.Time
}

// NewPriorityEngine creates a priority engine. A nil clock uses time.Now.
func NewPriorityEngine(cfg domain.PriorityConfig, now func() time.Time) *PriorityEngine {
	if now == nil {
		now = time.Now
	}
	if len(cfg.Weights) == 0 {
		cfg = domain.DefaultPriorityConfig()
	}
	return &PriorityEngine{cfg: cfg, now: now}
}

// CalculatePriority scores in. Identical input at the same instant always
// yields the same result.
func (e *PriorityEngine) CalculatePriority(in domain.PriorityInput) domain.PriorityResult {
	now := e.now()
	factors := map[string]int{
		domain.FactorTime:       e.timeScore(in.DueAt, now),
		domain.FactorSeverity:   e.severityScore(in.SeverityDomain),
		domain.FactorAmount:     e.amountScore(in.Amount),
		domain.FactorEffort:     e.effortScore(in.EffortHours),
		domain.FactorDependency: e.flagScore(in.Blocked),
		domain.FactorPreference: e.flagScore(in.UserBoost),
	}

	total := 0.0
	for _, name := range domain.FactorOrder {
		total += e.cfg.Weights[name] * float64(factors[name])
	}
	score := clamp(int(math.Round(total/100)), 0, 100)

	return domain.PriorityResult{
		Score:   score,
		Reason:  e.reason(in, factors, now),
		Factors: factors,
	}
}

// timeScore decays exponentially with the days remaining; overdue is 100.
func (e *PriorityEngine) timeScore(due *time.Time, now time.Time) int {
	if due == nil {
		return e.cfg.NoDueDateScore
	}
	days := due.Sub(now).Hours() / 24
	if days < 0 {
		return 100
	}
	return clamp(int(math.Round(99*math.Exp(-days/e.cfg.TimeHorizonDays))), 0, 100)
}

func (e *PriorityEngine) severityScore(domainName string) int {
	score, _ := e.cfg.Severity(domainName)
	return clamp(score, 0, 100)
}

// amountScore is logarithmic: 1 -> 0, 100 -> 50, 10,000 and above -> 100.
func (e *PriorityEngine) amountScore(amount *domain.Money) int {
	if amount == nil || amount.Minor <= 0 {
		return 0
	}
	v := amount.Float()
	if v < 1 {
		return 0
	}
	return clamp(int(math.Round(e.cfg.AmountLogScale*math.Log10(v))), 0, 100)
}

func (e *PriorityEngine) effortScore(hours *float64) int {
	if hours == nil {
		return e.cfg.UnknownEffort
	}
	h := *hours
	if h <= 0 {
		return 0
	}
	return clamp(int(math.Round(100*h/(h+e.cfg.EffortHalfPoint))), 0, 100)
}

func (e *PriorityEngine) flagScore(set bool) int {
	if set {
		return 100
	}
	return e.cfg.NeutralScore
}

// reason names the factors with the largest weighted contribution.
func (e *PriorityEngine) reason(in domain.PriorityInput, factors map[string]int, now time.Time) string {
	order := make(map[string]int, len(domain.FactorOrder))
	for i, name := range domain.FactorOrder {
		order[name] = i
	}
	names := append([]string(nil), domain.FactorOrder...)
	contribution := func(name string) float64 {
		return e.cfg.Weights[name] * float64(factors[name])
	}
	sort.SliceStable(names, func(i, j int) bool {
		ci, cj := contribution(names[i]), contribution(names[j])
		if ci != cj {
			return ci > cj
		}
		return order[names[i]] < order[names[j]]
	})

	limit := e.cfg.MaxReasonFactors
	if limit <= 0 || limit > len(names) {
		limit = len(names)
	}
	phrases := make([]string, 0, limit)
	for _, name := range names[:limit] {
		phrases = append(phrases, e.phrase(name, in, now))
	}
	return capitalize(strings.Join(phrases, "; "))
}

func (e *PriorityEngine) phrase(name string, in domain.PriorityInput, now time.Time) string {
	switch name {
	case domain.FactorTime:
		return dueTimePhrase(in.DueAt, now)
	case domain.FactorSeverity:
		d := strings.ToLower(strings.TrimSpace(in.SeverityDomain))
		if _, known := e.cfg.Severity(d); !known {
			return "unclassified obligation"
		}
		return d + " obligation"
	case domain.FactorAmount:
		if in.Amount == nil || in.Amount.Minor <= 0 {
			return "no amount"
		}
		return "amount " + in.Amount.String()
	case domain.FactorEffort:
		if in.EffortHours == nil {
			return "unknown effort"
		}
		return "effort " + strconv.FormatFloat(*in.EffortHours, 'f', -1, 64) + "h"
	case domain.FactorDependency:
		if in.Blocked {
			return "blocked by a dependency"
		}
		return "no blocking dependency"
	case domain.FactorPreference:
		if in.UserBoost {
			return "boosted by user"
		}
		return "no user preference"
	}
	return name
}

func dueTimePhrase(due *time.Time, now time.Time) string {
	if due == nil {
		return "no due date"
	}
	switch days := calendarDays(now, *due); {
	case days < 0:
		return "overdue by " + pluralDays(-days)
	case days == 0:
		return "due today"
	case days == 1:
		return "due tomorrow"
	default:
		return "due in " + pluralDays(days)
	}
}

// calendarDays counts UTC date boundaries between from and to. Date-only due
// dates arrive as UTC midnight, so hours past midnight must not eat a day.
func calendarDays(from, to time.Time) int {
	date := func(t time.Time) time.Time {
		y, m, d := t.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return int(date(to).Sub(date(from)).Hours() / 24)
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
