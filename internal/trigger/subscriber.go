package trigger

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/zap"

	"errwatch/internal/eventbus"
	"errwatch/internal/model"
)

// triggerEnvelope mirrors ingest.TriggerEnvelope. Duplicated rather
// than imported to avoid a dependency from trigger back onto ingest;
// both packages depend only on model and eventbus's topic constants.
type triggerEnvelope struct {
	Project        model.Project
	Issue          model.Issue
	Occurrence     model.Occurrence
	IsNew          bool
	SanitizedEvent model.RawEvent
}

// Subscriber drains eventbus.TopicTrigger and runs each envelope
// through a Pipeline. Run blocks until ctx is cancelled.
type Subscriber struct {
	bus      *eventbus.Bus
	pipeline *Pipeline
	log      *zap.SugaredLogger
}

// NewSubscriber returns a Subscriber wired to bus and pipeline.
func NewSubscriber(bus *eventbus.Bus, pipeline *Pipeline, log *zap.SugaredLogger) *Subscriber {
	return &Subscriber{bus: bus, pipeline: pipeline, log: log}
}

// Run subscribes to the trigger topic and processes messages until ctx
// is cancelled. Malformed envelopes are acked and dropped; evaluation
// errors are logged by the pipeline itself and never block the next
// message.
func (s *Subscriber) Run(ctx context.Context) error {
	messages, err := s.bus.Subscribe(ctx, eventbus.TopicTrigger)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	var env triggerEnvelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		s.log.Errorw("failed to decode trigger envelope", "error", err)
		return
	}

	if err := s.pipeline.EvaluateAndDispatch(ctx, env.Project, env.Issue, env.Occurrence, env.IsNew, env.SanitizedEvent); err != nil {
		s.log.Errorw("trigger pipeline failed", "projectId", env.Project.ProjectID, "issueId", env.Issue.IssueID, "error", err)
	}
}
