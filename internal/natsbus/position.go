package natsbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"route-eta/internal/tracker"
	"route-eta/internal/transit"
)

// PositionMessage is the JSON body of a fix on the wire. Lat and Lon are
// pointers so a missing coordinate can be told apart from zero.
type PositionMessage struct {
	DeviceID  string    `json:"deviceId,omitempty"`
	TripID    string    `json:"tripId,omitempty"`
	LineID    string    `json:"lineId,omitempty"`
	Direction string    `json:"dir,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Lat       *float64  `json:"lat"`
	Lon       *float64  `json:"lon"`
	Bearing   float64   `json:"bearing"`
	Progress  float64   `json:"progress"`
	SpeedMps  float64   `json:"speedMps"`
}

// PublishPosition sends msg to <prefix>.<line>.<device>.
func (b *Bus) PublishPosition(prefix string, msg PositionMessage) error {
	return b.publish(subject(prefix, msg.LineID, msg.DeviceID), msg)
}

// DecodeFix turns a message into a device key and fix. The device key comes
// from deviceId, then tripId, then the last subject token.
func DecodeFix(subj string, data []byte) (string, transit.Fix, error) {
	var msg PositionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", transit.Fix{}, fmt.Errorf("decode position: %w", err)
	}
	if msg.Lat == nil || msg.Lon == nil {
		return "", transit.Fix{}, errors.New("decode position: lat and lon are required")
	}

	key := firstNonEmpty(msg.DeviceID, msg.TripID)
	if key == "" {
		if i := strings.LastIndexByte(subj, '.'); i >= 0 {
			key = subj[i+1:]
		} else {
			key = subj
		}
	}
	return key, transit.Fix{
		Lat:       *msg.Lat,
		Lon:       *msg.Lon,
		Timestamp: msg.Timestamp,
		LineID:    msg.LineID,
		Direction: msg.Direction,
	}, nil
}

// FixSink receives decoded fixes. service.Service implements it.
type FixSink interface {
	IngestFix(deviceKey string, fix transit.Fix) (tracker.IngestResult, error)
}

// SubscribeFixes feeds every fix published on subj into sink. Messages are
// handled on the subscription's goroutine, so fixes from one connection
// arrive at the sink in publish order.
func (b *Bus) SubscribeFixes(subj string, sink FixSink) error {
	sub, err := b.nc.Subscribe(subj, func(m *nats.Msg) {
		if b.metrics != nil {
			b.metrics.NATSReceivedInc()
		}
		key, fix, err := DecodeFix(m.Subject, m.Data)
		if err != nil {
			if b.metrics != nil {
				b.metrics.NATSDecodeErrInc()
			}
			log.Debug().Err(err).Str("subject", m.Subject).Msg("dropping fix")
			return
		}
		if _, err := sink.IngestFix(key, fix); err != nil {
			log.Debug().Err(err).Str("subject", m.Subject).Str("device", key).Msg("fix rejected")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subj, err)
	}
	b.subs = append(b.subs, sub)
	log.Info().Str("subject", subj).Msg("nats subscribed to fixes")
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
