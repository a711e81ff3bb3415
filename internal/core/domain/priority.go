package domain

import (
	"strings"
	"time"
)

// Priority factor names, in tie-break order.
const (
	FactorTime       = "time"
	FactorSeverity   = "severity"
	FactorAmount     = "amount"
	FactorEffort     = "effort"
	FactorDependency = "dependency"
	FactorPreference = "preference"
)

// FactorOrder is the fixed factor order used for tie-breaking and iteration.
var FactorOrder = []string{
	FactorTime,
	FactorSeverity,
	FactorAmount,
	FactorEffort,
	FactorDependency,
	FactorPreference,
}

// PriorityInput carries the factors of one commitment. All fields are optional.
type PriorityInput struct {
	DueAt          *time.Time `json:"due_at,omitempty"`
	Amount         *Money     `json:"amount,omitempty"`
	SeverityDomain string     `json:"severity_domain,omitempty"`
	EffortHours    *float64   `json:"effort_hours,omitempty"`
	Blocked        bool       `json:"blocked"`
	UserBoost      bool       `json:"user_boost"`
}

// PriorityResult is an explainable priority score.
type PriorityResult struct {
	Score   int            `json:"score"`
	Reason  string         `json:"reason"`
	Factors map[string]int `json:"factors"`
}

// PriorityConfig holds factor weights (percent, summing to 100) and the
// severity table. Passed by value; never mutated after construction.
type PriorityConfig struct {
	Weights          map[string]float64
	SeverityTable    map[string]int
	DefaultSeverity  int
	TimeHorizonDays  float64
	NoDueDateScore   int
	AmountLogScale   float64
	EffortHalfPoint  float64
	UnknownEffort    int
	NeutralScore     int
	MaxReasonFactors int
}

// DefaultPriorityConfig returns the standard weights: time 30, severity 25,
// amount 15, effort 15, dependency 10, preference 5.
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		Weights: map[string]float64{
			FactorTime:       30,
			FactorSeverity:   25,
			FactorAmount:     15,
			FactorEffort:     15,
			FactorDependency: 10,
			FactorPreference: 5,
		},
		SeverityTable: map[string]int{
			"legal":      100,
			"compliance": 95,
			"tax":        95,
			"financial":  90,
			"medical":    80,
			"contract":   75,
			"housing":    70,
			"operations": 50,
			"personal":   40,
		},
		DefaultSeverity:  50,
		TimeHorizonDays:  60,
		NoDueDateScore:   25,
		AmountLogScale:   25,
		EffortHalfPoint:  8,
		UnknownEffort:    50,
		NeutralScore:     50,
		MaxReasonFactors: 3,
	}
}

// Severity returns the risk score for a domain name (case-insensitive).
func (c PriorityConfig) Severity(domain string) (int, bool) {
	score, ok := c.SeverityTable[strings.ToLower(strings.TrimSpace(domain))]
	if !ok {
		return c.DefaultSeverity, false
	}
	return score, true
}
