package replicator

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
)

// NATSBus is a PubSub backed by a NATS connection, reconnecting with
// exponential backoff instead of NATS's own fixed-interval retry so a
// flapping broker doesn't get hammered by every node at once.
type NATSBus struct {
	conn *nats.Conn
}

// DialNATS connects to url, retrying with exponential backoff until it
// succeeds or ctx-equivalent give-up policy elapses.
func DialNATS(url string) (*NATSBus, error) {
	reconnectBackoff := backoff.NewExponentialBackOff()
	reconnectBackoff.MaxElapsedTime = 0 // keep reconnecting an established connection indefinitely
	var conn *nats.Conn
	operation := func() error {
		c, err := nats.Connect(url,
			nats.MaxReconnects(-1),
			// reconnect timing is driven by our own backoff, not the client's
			nats.CustomReconnectDelay(func(attempts int) time.Duration {
				if attempts <= 1 {
					reconnectBackoff.Reset()
				}
				return reconnectBackoff.NextBackOff()
			}),
		)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}

	if err := backoff.Retry(operation, backoff.NewExponentialBackOff()); err != nil {
		return nil, fmt.Errorf("replicator: connect to nats at %s: %w", url, err)
	}
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(subject string, data []byte) error {
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(subject string, handler func(data []byte)) (Unsubscribe, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() error { return sub.Unsubscribe() }, nil
}

// Close closes the underlying NATS connection without draining it.
func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
