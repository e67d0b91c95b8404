// Package amqp fans activity log entries out to a topic exchange.
package amqp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"quiz-proctor/internal/app"
	"quiz-proctor/internal/domain"
)

// Channel is the publishing half of *amqp.Channel.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// ActivityPublisher writes entries to the wrapped sink and then publishes them with
// routing key "activity.<kind>". Only the sink write decides success.
type ActivityPublisher struct {
	next     app.ActivitySink
	channel  Channel
	exchange string
	log      zerolog.Logger

	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker and declares a durable topic exchange.
func Dial(url, exchange string, next app.ActivitySink, log zerolog.Logger) (*ActivityPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	p := NewActivityPublisher(next, ch, exchange, log)
	p.conn = conn
	p.ch = ch
	return p, nil
}

func NewActivityPublisher(next app.ActivitySink, channel Channel, exchange string, log zerolog.Logger) *ActivityPublisher {
	return &ActivityPublisher{
		next:     next,
		channel:  channel,
		exchange: exchange,
		log:      log.With().Str("component", "activity_publisher").Logger(),
	}
}

type activityEvent struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Detail    string `json:"detail,omitempty"`
	At        string `json:"at"`
}

func RoutingKey(kind domain.EventKind) string {
	return "activity." + string(kind)
}

func (p *ActivityPublisher) AppendActivityLog(ctx context.Context, entry domain.ActivityEntry) error {
	if err := p.next.AppendActivityLog(ctx, entry); err != nil {
		return err
	}
	body, err := json.Marshal(activityEvent{
		Type:      string(entry.Kind),
		UserID:    entry.UserID,
		SessionID: entry.SessionID,
		Detail:    entry.Detail,
		At:        entry.At.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("encode activity event")
		return nil
	}
	err = p.channel.Publish(p.exchange, RoutingKey(entry.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    entry.At,
		Body:         body,
	})
	if err != nil {
		p.log.Warn().Err(err).Str("session_id", entry.SessionID).Str("kind", string(entry.Kind)).Msg("publish activity event failed")
	}
	return nil
}

func (p *ActivityPublisher) Close() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
