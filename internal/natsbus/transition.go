package natsbus

import (
	"github.com/rs/zerolog/log"
	"route-eta/internal/eta"
	"route-eta/internal/service"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

// TransitionPublisher emits every recorded segment transition to
// <prefix>.<line>.<dir>.
type TransitionPublisher struct {
	bus    *Bus
	prefix string
}

func NewTransitionPublisher(bus *Bus, prefix string) *TransitionPublisher {
	return &TransitionPublisher{bus: bus, prefix: prefix}
}

var _ service.Observer = (*TransitionPublisher)(nil)

func (p *TransitionPublisher) FixIngested(res tracker.IngestResult) {
	if res.Transition == nil {
		return
	}
	if err := p.Publish(*res.Transition); err != nil {
		log.Warn().Err(err).Str("segment", res.Transition.Segment.String()).Msg("publish transition")
	}
}

func (p *TransitionPublisher) FixRejected(error)             {}
func (p *TransitionPublisher) ETAServed(eta.Estimate, error) {}

func (p *TransitionPublisher) Publish(tr transit.Transition) error {
	return p.bus.publish(TransitionSubject(p.prefix, tr.Segment), tr)
}

func TransitionSubject(prefix string, seg transit.SegmentKey) string {
	return subject(prefix, seg.LineID, seg.Direction)
}
