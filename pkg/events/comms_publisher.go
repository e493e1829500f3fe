package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/apprunner/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject overrides the global dispatched event subject (DISPATCHED_EVENT_SUBJECT).
	Subject string
	// PerScript also publishes to "<subject>.<script>".
	PerScript bool
}

// CommsPublisher publishes dispatch events to COMMS subjects.
type CommsPublisher struct {
	nc        *comms.Conn
	subject   string
	perScript bool
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	p := &CommsPublisher{nc: nc, subject: commsutil.SubjectDispatched}
	if opts != nil {
		if opts.Subject != "" {
			p.subject = opts.Subject
		}
		p.perScript = opts.PerScript
	}
	return p
}

// PublishDispatched publishes event to the global subject and, when enabled,
// to the script's own subject.
func (p *CommsPublisher) PublishDispatched(_ context.Context, event *DispatchedEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subjects := []string{p.subject}
	if p.perScript {
		subjects = append(subjects, commsutil.BuildDispatchedSubject(p.subject, event.Script))
	}
	for _, subject := range subjects {
		if err := p.nc.Publish(subject, data); err != nil {
			return fmt.Errorf("%s - failed to publish to %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published dispatched event %s for %s", commsPublisherLogPrefix, event.ID, event.Script))
	return nil
}
