package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Resource is one of the independently polled collections.
type Resource string

const (
	ResourceQuestion Resource = "question"
	ResourceTeams    Resource = "teams"
	ResourceAnswers  Resource = "answers"
	ResourcePowerups Resource = "powerups"
)

// Resources lists every polled resource in poll order.
var Resources = []Resource{ResourceQuestion, ResourceTeams, ResourceAnswers, ResourcePowerups}

// Notifier tells other clients that a resource changed so they can poll it
// ahead of their next tick. Delivery is best effort.
type Notifier interface {
	Publish(ctx context.Context, sessionID uuid.UUID, resources ...Resource)
}

// Poller is what a nudge triggers on the receiving side.
type Poller interface {
	PollNow(resource Resource)
}

// NoopNotifier drops every nudge. Clients then rely on polling alone.
type NoopNotifier struct{}

func (NoopNotifier) Publish(context.Context, uuid.UUID, ...Resource) {}

// NATSNotifier publishes empty messages on <prefix>.<session>.<resource>.
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSNotifier(nc *nats.Conn, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "classroom"
	}
	return &NATSNotifier{nc: nc, prefix: prefix}
}

// ConnectNATS dials the server with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("classroom-agent"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject a resource nudge is published on.
func (n *NATSNotifier) Subject(sessionID uuid.UUID, r Resource) string {
	return fmt.Sprintf("%s.%s.%s", n.prefix, sessionID, r)
}

func (n *NATSNotifier) Publish(_ context.Context, sessionID uuid.UUID, resources ...Resource) {
	if sessionID == uuid.Nil {
		return
	}
	for _, r := range resources {
		if err := n.nc.Publish(n.Subject(sessionID, r), nil); err != nil {
			log.Warn().Err(err).Str("resource", string(r)).Msg("failed to publish nudge")
		}
	}
}

// Subscribe forwards every nudge for the session to p.
func (n *NATSNotifier) Subscribe(sessionID uuid.UUID, p Poller) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.%s.*", n.prefix, sessionID)
	sub, err := n.nc.Subscribe(subject, func(m *nats.Msg) {
		r, ok := ParseSubject(m.Subject)
		if !ok {
			log.Debug().Str("subject", m.Subject).Msg("ignoring nudge for unknown resource")
			return
		}
		p.PollNow(r)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// ParseSubject extracts the resource from a nudge subject.
func ParseSubject(subject string) (Resource, bool) {
	i := strings.LastIndexByte(subject, '.')
	if i < 0 {
		return "", false
	}
	r := Resource(subject[i+1:])
	for _, known := range Resources {
		if r == known {
			return r, true
		}
	}
	return "", false
}
