package notifyengine

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

var _ = Describe("Engine cooldown and escalation", func() {
	var (
		ms   *store.MemoryStore
		disp *recordingDispatcher
		now  time.Time
	)

	BeforeEach(func() {
		ms = store.NewMemoryStore()
		disp = &recordingDispatcher{}
		now = time.Now()
	})

	newEngine := func(cfg Config) *Engine {
		clock := func() time.Time { return now }
		return New(ms.NotificationState(), disp, cfg, clock, zap.NewNop().Sugar())
	}

	Context("when a rule has an active cooldown", func() {
		It("suppresses the second dispatch until the cooldown elapses", func() {
			e := newEngine(Config{AggregationWindow: 0, DefaultCooldown: time.Hour})
			rule := model.AlertRule{RuleID: "r-cooldown", Name: "cooldown rule"}
			project := model.Project{ProjectID: "p1"}

			first := model.AlertPayload{Title: "first", Severity: model.SeverityHigh, Environment: []string{"production"}}
			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, first)).To(Succeed())
			Expect(disp.snapshot()).To(HaveLen(1))

			second := model.AlertPayload{Title: "second", Severity: model.SeverityHigh, Environment: []string{"production"}}
			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, second)).To(Succeed())

			Consistently(func() int { return len(disp.snapshot()) }, 80*time.Millisecond, 10*time.Millisecond).Should(Equal(1))
			e.Stop()
		})
	})

	Context("when the cooldown has already elapsed", func() {
		It("dispatches again immediately", func() {
			e := newEngine(Config{AggregationWindow: 0, DefaultCooldown: time.Millisecond})
			rule := model.AlertRule{RuleID: "r-expired", Name: "expired cooldown rule"}
			project := model.Project{ProjectID: "p1"}

			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, model.AlertPayload{Title: "a"})).To(Succeed())
			Expect(disp.snapshot()).To(HaveLen(1))

			now = now.Add(5 * time.Millisecond)
			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, model.AlertPayload{Title: "b"})).To(Succeed())

			Eventually(func() int { return len(disp.snapshot()) }, time.Second, 5*time.Millisecond).Should(Equal(2))
		})
	})

	Context("when escalation is enabled with no acknowledgement", func() {
		It("fires the escalation level and tags it as derived from the original alert", func() {
			e := newEngine(Config{AggregationWindow: 0, DefaultCooldown: 0})
			rule := model.AlertRule{
				RuleID: "r-escalate",
				Name:   "escalating rule",
				Escalation: &model.Escalation{
					Enabled: true,
					Levels: []model.EscalationLevel{
						{Name: "page", AfterMinutes: 0.001, Channels: []model.ChannelTarget{{Type: "webhook", Target: "https://m"}}},
					},
				},
			}
			project := model.Project{ProjectID: "p1"}
			alert := model.AlertPayload{Title: "boom", Severity: model.SeverityCritical, Environment: []string{"production"}}

			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, alert)).To(Succeed())

			Eventually(func() int { return len(disp.snapshot()) }, time.Second, 5*time.Millisecond).Should(Equal(2))

			calls := disp.snapshot()
			Expect(calls[1].Metadata.Escalation).To(BeTrue())
			Expect(calls[1].Metadata.OriginalAlertID).To(Equal(calls[0].AlertID))
		})
	})

	Context("when an escalating alert is acknowledged before its level fires", func() {
		It("cancels the pending escalation", func() {
			e := newEngine(Config{AggregationWindow: 0, DefaultCooldown: 0, DefaultEscalationMinutes: 120})
			rule := model.AlertRule{
				RuleID: "r-ack",
				Name:   "acknowledgeable rule",
				Escalation: &model.Escalation{
					Enabled: true,
					Levels: []model.EscalationLevel{
						{Name: "page", AfterMinutes: 0.001, Channels: []model.ChannelTarget{{Type: "webhook", Target: "https://m"}}},
					},
				},
			}
			project := model.Project{ProjectID: "p1"}
			alert := model.AlertPayload{Title: "boom", Severity: model.SeverityHigh, Environment: []string{"production"}}

			Expect(e.ProcessTriggeredAlert(context.Background(), project, rule, alert)).To(Succeed())
			calls := disp.snapshot()
			Expect(calls).To(HaveLen(1))

			Expect(e.Acknowledge(context.Background(), calls[0].AlertID)).To(BeTrue())

			Consistently(func() int { return len(disp.snapshot()) }, 60*time.Millisecond, 10*time.Millisecond).Should(Equal(1))
		})
	})
})
