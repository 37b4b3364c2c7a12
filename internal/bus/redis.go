package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus over Redis pub/sub. Messages are JSON on the wire; each
// subscription runs one pump goroutine moving deliveries from the
// redis channel into a buffered local one.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client. The bus takes ownership: Close
// closes the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Dial connects to Redis and verifies the connection with a ping.
func Dial(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis at %s: %w", addr, err)
	}
	return NewRedis(client), nil
}

// Publish sends one JSON-encoded message to the topic.
func (r *Redis) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if err := r.client.Publish(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", topic, err)
	}
	return nil
}

// Subscribe opens a redis subscription on the topic and pumps its
// deliveries into the returned channel. Undecodable payloads are logged
// and skipped; a full buffer drops the delivery.
func (r *Redis) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	ps := r.client.Subscribe(ctx, topic)
	// Wait for the subscription confirmation so publishes after this
	// call are not lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("subscribe to %q: %w", topic, err)
	}

	out := make(chan Message, subscriberBuffer)
	done := make(chan struct{})

	go func() {
		defer close(out)
		src := ps.Channel()
		for {
			select {
			case <-done:
				return
			case delivery, ok := <-src:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(delivery.Payload), &msg); err != nil {
					log.Printf("WARNING: bus: bad payload on %q: %v", topic, err)
					continue
				}
				select {
				case out <- msg:
				default:
					log.Printf("WARNING: bus: dropping %s message on %q: subscriber full", msg.Type, topic)
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}
	return out, cancel, nil
}

// Close closes the underlying client. Open subscriptions end as their
// redis channels close.
func (r *Redis) Close() error {
	return r.client.Close()
}
