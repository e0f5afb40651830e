package alerts

import (
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/metrics"
)

func slowRule() Rule {
	return Rule{
		Name:      "slow-backup",
		Severity:  SeverityWarning,
		Condition: Condition{Field: "duration_seconds", Op: OpGreater, Threshold: 60},
		Enabled:   true,
		Cooldown:  300 * time.Second,
	}
}

func backupAt(ts time.Time, duration float64, success bool) metrics.Record {
	return metrics.BackupRecord{
		Instance:        "db1",
		Database:        "orders",
		DurationSeconds: duration,
		Success:         success,
		Timestamp:       ts,
	}
}

func TestConditionOperators(t *testing.T) {
	g := NewWithT(t)
	fields := map[string]float64{"x": 5}

	g.Expect(Condition{Field: "x", Op: OpLess, Threshold: 6}.Holds(fields)).To(BeTrue())
	g.Expect(Condition{Field: "x", Op: OpLessEqual, Threshold: 5}.Holds(fields)).To(BeTrue())
	g.Expect(Condition{Field: "x", Op: OpEqual, Threshold: 5}.Holds(fields)).To(BeTrue())
	g.Expect(Condition{Field: "x", Op: OpNotEqual, Threshold: 5}.Holds(fields)).To(BeFalse())
	g.Expect(Condition{Field: "x", Op: OpGreaterEqual, Threshold: 6}.Holds(fields)).To(BeFalse())
	g.Expect(Condition{Field: "x", Op: OpGreater, Threshold: 4}.Holds(fields)).To(BeTrue())

	// Missing field never holds.
	g.Expect(Condition{Field: "y", Op: OpGreater, Threshold: 0}.Holds(fields)).To(BeFalse())
}

func TestRuleValidation(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())

	g.Expect(m.AddRule(slowRule())).To(Succeed())
	g.Expect(m.AddRule(Rule{Severity: SeverityInfo, Condition: Condition{Field: "x", Op: OpLess}})).NotTo(Succeed())
	g.Expect(m.AddRule(Rule{Name: "bad-sev", Severity: "fatal", Condition: Condition{Field: "x", Op: OpLess}})).NotTo(Succeed())
	g.Expect(m.AddRule(Rule{Name: "bad-op", Severity: SeverityInfo, Condition: Condition{Field: "x", Op: "~"}})).NotTo(Succeed())
}

func TestEvaluateFiresOnThreshold(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())
	g.Expect(m.AddRule(slowRule())).To(Succeed())

	t0 := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	triggers := m.Evaluate([]metrics.Record{
		backupAt(t0, 30, true),
		backupAt(t0.Add(10*time.Minute), 120, true),
	})

	g.Expect(triggers).To(HaveLen(1))
	g.Expect(triggers[0].Rule.Name).To(Equal("slow-backup"))
	g.Expect(triggers[0].Value).To(Equal(120.0))
	g.Expect(triggers[0].Timestamp).To(Equal(t0.Add(10 * time.Minute)))
}

func TestEvaluateCooldownSuppressesRepeat(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())
	g.Expect(m.AddRule(slowRule())).To(Succeed())

	t0 := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	// Two offending records 60s apart with a 300s cooldown: one trigger.
	triggers := m.Evaluate([]metrics.Record{
		backupAt(t0, 120, true),
		backupAt(t0.Add(60*time.Second), 120, true),
	})
	g.Expect(triggers).To(HaveLen(1))
	g.Expect(triggers[0].Timestamp).To(Equal(t0))

	// Past the cooldown the rule fires again.
	triggers = m.Evaluate([]metrics.Record{
		backupAt(t0.Add(301*time.Second), 120, true),
	})
	g.Expect(triggers).To(HaveLen(1))
}

func TestEvaluateExtraConditionsAreANDed(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())

	rule := slowRule()
	rule.Name = "slow-failure"
	rule.Extra = []Condition{{Field: "success", Op: OpEqual, Threshold: 0}}
	g.Expect(m.AddRule(rule)).To(Succeed())

	t0 := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	triggers := m.Evaluate([]metrics.Record{
		backupAt(t0, 120, true), // slow but successful: no fire
		backupAt(t0.Add(time.Hour), 120, false),
	})

	g.Expect(triggers).To(HaveLen(1))
	g.Expect(triggers[0].Timestamp).To(Equal(t0.Add(time.Hour)))
}

func TestEvaluateSkipsDisabledRules(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())

	rule := slowRule()
	rule.Enabled = false
	g.Expect(m.AddRule(rule)).To(Succeed())

	t0 := time.Now()
	g.Expect(m.Evaluate([]metrics.Record{backupAt(t0, 500, false)})).To(BeEmpty())
}

func TestActiveAlerts(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())
	g.Expect(m.AddRule(slowRule())).To(Succeed())

	t0 := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	m.Evaluate([]metrics.Record{backupAt(t0, 120, true)})

	m.now = func() time.Time { return t0.Add(100 * time.Second) }
	g.Expect(m.ActiveAlerts()).To(HaveLen(1))

	m.now = func() time.Time { return t0.Add(400 * time.Second) }
	g.Expect(m.ActiveAlerts()).To(BeEmpty())
}
