package eventbus

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindDirectory  Kind = "directory"
	KindMessages   Kind = "messages"
	KindSelection  Kind = "selection"
	KindNotice     Kind = "notice"
	KindConnection Kind = "connection"
)

const kindMetadataKey = "kind"

// Update is one published console state change.
type Update struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Decode unmarshals the payload into dst.
func (u Update) Decode(dst any) error {
	return errors.Wrapf(json.Unmarshal(u.Payload, dst), "decode %s update", u.Kind)
}

// Bus publishes and subscribes to console updates on a single topic.
type Bus struct {
	topic  string
	pub    message.Publisher
	sub    message.Subscriber
	client *redis.Client
	logger watermill.LoggerAdapter
	// pub and sub are the same go-channel
	shared bool
}

// New builds a Redis Streams backed bus when enabled, an in-memory one otherwise.
func New(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.Logger)
	b := &Bus{topic: s.topic(), logger: logger}

	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		b.pub = ch
		b.sub = ch
		b.shared = true
		return b, nil
	}

	b.client = redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     b.client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = b.client.Close()
		return nil, errors.Wrap(err, "redis publisher")
	}
	sub, err := rstream.NewSubscriber(rstream.SubscriberConfig{
		Client:        b.client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = b.client.Close()
		return nil, errors.Wrap(err, "redis subscriber")
	}
	b.pub = pub
	b.sub = sub
	return b, nil
}

func (b *Bus) Topic() string { return b.topic }

// Publish marshals payload and sends it under kind.
func (b *Bus) Publish(kind Kind, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal %s update", kind)
	}
	u := Update{ID: uuid.NewString(), Kind: kind, At: time.Now().UTC(), Payload: data}
	body, err := json.Marshal(u)
	if err != nil {
		return errors.Wrap(err, "marshal update")
	}
	msg := message.NewMessage(u.ID, body)
	msg.Metadata.Set(kindMetadataKey, string(kind))
	return b.pub.Publish(b.topic, msg)
}

// Subscribe returns decoded updates until ctx is done. Messages that fail to
// decode are acked and skipped.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Update, error) {
	msgs, err := b.sub.Subscribe(ctx, b.topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", b.topic)
	}
	out := make(chan Update, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var u Update
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				b.logger.Error("dropping undecodable update", err, watermill.LogFields{"uuid": msg.UUID})
				msg.Ack()
				continue
			}
			select {
			case out <- u:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error {
	var errs []string
	if err := b.pub.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if !b.shared {
		if err := b.sub.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if b.client != nil {
		if err := b.client.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("close event bus: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureGroupAtTail creates the consumer group at the stream tail so a fresh
// subscriber does not replay the whole history.
func EnsureGroupAtTail(ctx context.Context, s Settings) error {
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, s.topic(), s.Group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", s.topic()).Str("group", s.Group).Msg("created redis consumer group at tail")
	return nil
}
