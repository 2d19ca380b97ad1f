// Package natsbus carries vehicle fixes and segment transition events over
// NATS core subjects.
package natsbus

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Bus struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     Metrics
	subs        []*nats.Subscription
}

type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	NATSReceivedInc()
	NATSDecodeErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func Connect(url, name string, logSubjects bool, m Metrics) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &Bus{nc: nc, logSubjects: logSubjects, metrics: m}, nil
}

// Close drains subscriptions and pending publishes before closing.
func (b *Bus) Close() {
	if b.nc == nil {
		return
	}
	if err := b.nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("nats drain")
	}
	b.nc.Close()
}

func (b *Bus) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if b.logSubjects {
		log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = b.nc.Publish(subject, data)
	if b.metrics != nil {
		b.metrics.PublishObserve(time.Since(start))
		if err != nil {
			b.metrics.NATSPublishErrInc()
		} else {
			b.metrics.NATSPublishedInc()
		}
	}
	return err
}

// subject appends sanitized tokens to prefix. The prefix is used as is and
// may itself span several tokens.
func subject(prefix string, tokens ...string) string {
	parts := make([]string, 0, len(tokens)+1)
	if p := strings.Trim(prefix, ". "); p != "" {
		parts = append(parts, p)
	}
	for _, t := range tokens {
		parts = append(parts, subjectToken(t))
	}
	return strings.Join(parts, ".")
}

// SubjectPrefix strips trailing wildcard tokens from a subscription pattern,
// so "vehicles.>" publishes under "vehicles".
func SubjectPrefix(pattern string) string {
	tokens := strings.Split(strings.Trim(pattern, ". "), ".")
	for len(tokens) > 0 {
		last := tokens[len(tokens)-1]
		if last != ">" && last != "*" {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, ".")
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
