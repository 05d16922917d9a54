package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/calmsignal/calmsignal/pkg/types"
	"github.com/calmsignal/calmsignal/server/internal/config"
	"github.com/calmsignal/calmsignal/server/internal/store"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // ms
)

// Acceptor takes one reading. *receiver.Receiver satisfies it.
type Acceptor interface {
	Accept(ctx context.Context, rd types.Reading) (store.Change, error)
	// Reject reports a message that never decoded into a reading.
	Reject(ctx context.Context, rd types.Reading, err error)
}

// Subscriber feeds readings published on an MQTT topic into an Acceptor.
// Each message carries one reading in the same JSON shape as POST /data.
type Subscriber struct {
	cfg    config.MQTTConfig
	target Acceptor
	client mqtt.Client

	ctx      context.Context
	accepted atomic.Int64
	rejected atomic.Int64
}

// New creates a Subscriber. Call Start to connect.
func New(cfg config.MQTTConfig, target Acceptor) *Subscriber {
	s := &Subscriber{cfg: cfg, target: target, ctx: context.Background()}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if pw := cfg.Password(); pw != "" {
		opts.SetPassword(pw)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	// Clean sessions lose subscriptions, so subscribe on every (re)connect.
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("ingest: mqtt connection lost", "broker", cfg.Broker, "err", err)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. Messages are accepted with ctx until Stop.
func (s *Subscriber) Start(ctx context.Context) error {
	s.ctx = ctx
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("ingest: connect %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ingest: connect %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	s.client.Disconnect(disconnectQuiesce)
	slog.Info("ingest: mqtt stopped",
		"accepted", s.accepted.Load(),
		"rejected", s.rejected.Load(),
	)
}

// Stats returns how many messages were accepted and rejected so far.
func (s *Subscriber) Stats() (accepted, rejected int64) {
	return s.accepted.Load(), s.rejected.Load()
}

func (s *Subscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, byte(s.cfg.QoS), s.handle)
	if !token.WaitTimeout(connectTimeout) || token.Error() != nil {
		slog.Error("ingest: subscribe failed", "topic", s.cfg.Topic, "err", token.Error())
		return
	}
	slog.Info("ingest: mqtt subscribed", "broker", s.cfg.Broker, "topic", s.cfg.Topic)
}

func (s *Subscriber) handle(_ mqtt.Client, msg mqtt.Message) {
	if err := s.accept(msg.Payload()); err != nil {
		s.rejected.Add(1)
		slog.Warn("ingest: message rejected", "topic", msg.Topic(), "err", err)
		return
	}
	s.accepted.Add(1)
}

func (s *Subscriber) accept(payload []byte) error {
	var rd types.Reading
	if err := json.Unmarshal(payload, &rd); err != nil {
		err = fmt.Errorf("%w: %v", store.ErrInvalidPayload, err)
		s.target.Reject(s.ctx, types.Reading{}, err)
		return err
	}
	if _, err := s.target.Accept(s.ctx, rd); err != nil {
		if errors.Is(err, store.ErrInvalidPayload) {
			return err
		}
		return fmt.Errorf("accept: %w", err)
	}
	return nil
}
