// Package alerts evaluates threshold rules over metric records and emits
// triggers, with a per-rule cooldown to suppress repeat firing.
package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/metrics"
)

// Severity ranks a rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Operator compares a metric field against a threshold.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpGreaterEqual Operator = ">="
	OpGreater      Operator = ">"
)

// Condition is one comparison over a named metric field. A condition whose
// field is absent from a record does not hold for that record.
type Condition struct {
	Field     string   `json:"field"`
	Op        Operator `json:"op"`
	Threshold float64  `json:"threshold"`
}

// Holds evaluates the condition against a field map.
func (c Condition) Holds(fields map[string]float64) bool {
	v, ok := fields[c.Field]
	if !ok {
		return false
	}
	switch c.Op {
	case OpLess:
		return v < c.Threshold
	case OpLessEqual:
		return v <= c.Threshold
	case OpEqual:
		return v == c.Threshold
	case OpNotEqual:
		return v != c.Threshold
	case OpGreaterEqual:
		return v >= c.Threshold
	case OpGreater:
		return v > c.Threshold
	}
	return false
}

// Validate rejects conditions with an unknown operator or empty field.
func (c Condition) Validate() error {
	if c.Field == "" {
		return fmt.Errorf("alerts: condition has no field")
	}
	switch c.Op {
	case OpLess, OpLessEqual, OpEqual, OpNotEqual, OpGreaterEqual, OpGreater:
		return nil
	}
	return fmt.Errorf("alerts: unknown operator %q", c.Op)
}

// Rule fires when its primary condition and every extra condition hold for
// a record, no earlier than Cooldown after the rule's previous fire.
type Rule struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Severity    Severity      `json:"severity"`
	Condition   Condition     `json:"condition"`
	Extra       []Condition   `json:"extra,omitempty"`
	Enabled     bool          `json:"enabled"`
	Cooldown    time.Duration `json:"cooldown"`
}

// Validate checks the rule shape.
func (r Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("alerts: rule has no name")
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
	default:
		return fmt.Errorf("alerts: rule %s: unknown severity %q", r.Name, r.Severity)
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("alerts: rule %s: %w", r.Name, err)
	}
	for _, c := range r.Extra {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("alerts: rule %s: %w", r.Name, err)
		}
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("alerts: rule %s: negative cooldown", r.Name)
	}
	return nil
}

func (r Rule) matches(fields map[string]float64) bool {
	if !r.Condition.Holds(fields) {
		return false
	}
	for _, c := range r.Extra {
		if !c.Holds(fields) {
			return false
		}
	}
	return true
}

// Trigger is an emitted alert: the rule, the value that tripped its primary
// condition, and the timestamp of the offending record.
type Trigger struct {
	Rule      Rule
	Value     float64
	Timestamp time.Time
}

// Manager holds the rule set and the per-rule last-fire map.
type Manager struct {
	mu       sync.Mutex
	rules    map[string]Rule
	lastFire map[string]time.Time
	history  []Trigger
	now      func() time.Time
	logger   *zap.Logger
}

// NewManager creates an empty alert manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		rules:    make(map[string]Rule),
		lastFire: make(map[string]time.Time),
		now:      time.Now,
		logger:   logger.Named("alerts"),
	}
}

// AddRule registers or replaces a rule.
func (m *Manager) AddRule(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.Name] = r
	return nil
}

// RemoveRule drops a rule and its fire history.
func (m *Manager) RemoveRule(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
	delete(m.lastFire, name)
}

// Rules returns the registered rules sorted by name.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate runs every enabled rule over the records in order. A rule fires
// at most once per cooldown window, measured between record timestamps.
func (m *Manager) Evaluate(records []metrics.Record) []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	var triggers []Trigger
	for _, rec := range records {
		fields := rec.Fields()
		for _, name := range sortedRuleNames(m.rules) {
			rule := m.rules[name]
			if !rule.Enabled || !rule.matches(fields) {
				continue
			}
			if last, ok := m.lastFire[rule.Name]; ok && rec.At().Sub(last) < rule.Cooldown {
				continue
			}
			trig := Trigger{
				Rule:      rule,
				Value:     fields[rule.Condition.Field],
				Timestamp: rec.At(),
			}
			m.lastFire[rule.Name] = rec.At()
			m.history = append(m.history, trig)
			triggers = append(triggers, trig)
			m.logger.Warn("alert triggered",
				zap.String("rule", rule.Name),
				zap.String("severity", string(rule.Severity)),
				zap.Float64("value", trig.Value))
		}
	}
	return triggers
}

// ActiveAlerts returns the historical triggers still inside their rule's
// cooldown window.
func (m *Manager) ActiveAlerts() []Trigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []Trigger
	for _, t := range m.history {
		if now.Sub(t.Timestamp) < t.Rule.Cooldown {
			out = append(out, t)
		}
	}
	return out
}

func sortedRuleNames(rules map[string]Rule) []string {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
