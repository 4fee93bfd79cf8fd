package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rmq "github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/sony/sonyflake"

	"github.com/lzyats/airship-go/pkg/airship"
	"github.com/lzyats/airship-go/pkg/event"
)

type RocketMQProducer struct {
	cfg airship.RocketMQSettings
	p   rmq.Producer
	ids *sonyflake.Sonyflake
}

// CheckRocketMQ reports the first missing setting, if any.
func CheckRocketMQ(cfg airship.RocketMQSettings) error {
	if cfg.NameServer == "" {
		return fmt.Errorf("rocketmq: missing name-server: %w", airship.ErrNotConfigured)
	}
	if cfg.Producer.Group == "" {
		return fmt.Errorf("rocketmq: missing producer.group: %w", airship.ErrNotConfigured)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("rocketmq: missing topic: %w", airship.ErrNotConfigured)
	}
	return nil
}

func NewRocketMQ(cfg airship.RocketMQSettings) (*RocketMQProducer, error) {
	if err := CheckRocketMQ(cfg); err != nil {
		return nil, err
	}
	ids := sonyflake.NewSonyflake(sonyflake.Settings{})
	if ids == nil {
		return nil, fmt.Errorf("rocketmq: sonyflake init failed")
	}

	opts := []producer.Option{
		producer.WithNameServer([]string{cfg.NameServer}),
		producer.WithGroupName(cfg.Producer.Group),
		producer.WithRetry(2),
	}
	if cfg.Producer.AccessKey != "" || cfg.Producer.SecretKey != "" {
		opts = append(opts, producer.WithCredentials(primitive.Credentials{
			AccessKey: cfg.Producer.AccessKey,
			SecretKey: cfg.Producer.SecretKey,
		}))
	}
	prd, err := rmq.NewProducer(opts...)
	if err != nil {
		return nil, err
	}
	if err := prd.Start(); err != nil {
		return nil, err
	}
	return &RocketMQProducer{cfg: cfg, p: prd, ids: ids}, nil
}

// Publish stamps EventID/TS when unset and sends evt as JSON, keyed by push id.
func (r *RocketMQProducer) Publish(ctx context.Context, evt *event.ReportEvent) error {
	if evt == nil {
		return fmt.Errorf("nil event")
	}
	if err := Stamp(evt, r.ids); err != nil {
		return err
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	m := primitive.NewMessage(r.cfg.Topic, b)
	if r.cfg.Tag != "" {
		m.WithTag(r.cfg.Tag)
	}
	if evt.PushID != "" {
		m.WithKeys([]string{evt.PushID})
	}
	_, err = r.p.SendSync(ctx, m)
	return err
}

func (r *RocketMQProducer) Close() error {
	if r.p != nil {
		return r.p.Shutdown()
	}
	return nil
}

// Stamp fills EventID and TS on evt when they are zero.
func Stamp(evt *event.ReportEvent, ids *sonyflake.Sonyflake) error {
	if evt.EventID == 0 && ids != nil {
		id, err := ids.NextID()
		if err != nil {
			return fmt.Errorf("event id: %w", err)
		}
		evt.EventID = id
	}
	if evt.TS == 0 {
		evt.TS = time.Now().Unix()
	}
	return nil
}
