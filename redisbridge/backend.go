// Package redisbridge implements mqttadapter.Backend over Redis Pub/Sub,
// standing in for the out-of-scope Mosquitto/Paho back-ends for local demos
// and integration tests. It follows core/redis_client.go's connection
// lifecycle and namespacing conventions: one *redis.Client per adapter,
// every channel name prefixed with a namespace to avoid collisions with
// other Redis consumers on the same instance.
//
// MQTT semantics are approximated, not reproduced exactly: a publish is a
// Redis PUBLISH to the topic's channel name, a subscribe is a Redis
// PSUBSCRIBE against the topic filter translated to a Redis glob pattern,
// and QoS/retain have no effect beyond being recorded.
package redisbridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nodalcore/mqttpipe/mqttadapter"
	"github.com/nodalcore/mqttpipe/mqttlog"
)

// Options configures the Redis-backed Backend.
type Options struct {
	// URL is a redis:// connection string, parsed with redis.ParseURL.
	URL string
	// Namespace prefixes every channel name this backend touches, the way
	// core/redis_client.go namespaces framework keys.
	Namespace string
	// PingTimeout bounds the initial connectivity check; zero uses a 5s
	// default, matching core/redis_client.go's NewRedisClient.
	PingTimeout time.Duration
}

// New returns an mqttadapter.BackendFactory that builds Backends against
// opts. Each call to the factory produces one Backend bound to the
// Injector the adapter policy supplies.
func New(opts Options, log mqttlog.Logger) mqttadapter.BackendFactory {
	if log == nil {
		log = mqttlog.NoOp()
	}
	return func(inj mqttadapter.Injector, _ mqttadapter.Options) (mqttadapter.Backend, error) {
		return &Backend{inj: inj, opts: opts, log: log, subs: make(map[string]*subscription)}, nil
	}
}

type subscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

// Backend is the Redis-backed mqttadapter.Backend. All operations submit
// synchronously and report completion asynchronously through the Injector,
// per the adapter's outbound contract (spec §4.4/§7).
type Backend struct {
	inj mqttadapter.Injector
	opts Options
	log  mqttlog.Logger

	mu       sync.Mutex
	client   *redis.Client
	ctx      context.Context
	cancel   context.CancelFunc
	subs     map[string]*subscription // topic filter -> subscription
	packetID uint32
}

func (b *Backend) nextPacketID() uint16 {
	return uint16(atomic.AddUint32(&b.packetID, 1))
}

func (b *Backend) pingTimeout() time.Duration {
	if b.opts.PingTimeout > 0 {
		return b.opts.PingTimeout
	}
	return 5 * time.Second
}

// Connect submits a connection attempt; completion is reported via
// InjectConnAck on a background goroutine.
func (b *Backend) Connect(req mqttadapter.ConnectRequest) error {
	opt, err := redis.ParseURL(b.opts.URL)
	if err != nil {
		return fmt.Errorf("redisbridge: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.client = client
	b.ctx = ctx
	b.cancel = cancel
	b.mu.Unlock()

	go func() {
		pingCtx, pingCancel := context.WithTimeout(ctx, b.pingTimeout())
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			b.log.Error("redisbridge: connect failed", mqttlog.Fields{"err": err.Error()})
			b.inj.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 1})
			return
		}
		b.log.Info("redisbridge: connected", mqttlog.Fields{"client_id": req.ClientID})
		b.inj.InjectConnAck(mqttadapter.ConnAckPayload{ReasonCode: 0})
	}()
	return nil
}

// Subscribe submits a PSUBSCRIBE for the topic filter's Redis glob
// translation and assigns it a packet id; completion (and message
// delivery) is reported asynchronously.
func (b *Backend) Subscribe(req mqttadapter.SubscribeRequest) (uint16, error) {
	b.mu.Lock()
	client := b.client
	ctx := b.ctx
	b.mu.Unlock()
	if client == nil {
		return 0, fmt.Errorf("redisbridge: subscribe before connect")
	}

	packetID := b.nextPacketID()
	pattern := b.channelPattern(req.TopicFilter)
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := client.PSubscribe(subCtx, pattern)

	b.mu.Lock()
	b.subs[req.TopicFilter] = &subscription{pubsub: pubsub, cancel: cancel}
	b.mu.Unlock()

	go b.receiveLoop(pubsub, req.QoS)

	go func() {
		if _, err := pubsub.Receive(subCtx); err != nil {
			b.log.Error("redisbridge: subscribe failed", mqttlog.Fields{"topic": req.TopicFilter, "err": err.Error()})
			return
		}
		b.inj.InjectSubAck(mqttadapter.SubAckPayload{PacketID: packetID})
	}()
	return packetID, nil
}

// receiveLoop relays every message PSUBSCRIBE delivers as an inbound Recv
// event, until the subscription's context is canceled (Disconnect/Close).
func (b *Backend) receiveLoop(pubsub *redis.PubSub, qos mqttadapter.QoS) {
	ch := pubsub.Channel()
	for msg := range ch {
		b.inj.InjectRecv(mqttadapter.RecvPayload{
			Topic:   b.topicFromChannel(msg.Channel),
			Payload: []byte(msg.Payload),
			QoS:     qos,
		})
	}
}

// Publish submits a PUBLISH to the topic's channel name; completion is
// reported via InjectPubAck.
func (b *Backend) Publish(req mqttadapter.PublishRequest) (uint16, error) {
	b.mu.Lock()
	client := b.client
	ctx := b.ctx
	b.mu.Unlock()
	if client == nil {
		return 0, fmt.Errorf("redisbridge: publish before connect")
	}

	packetID := b.nextPacketID()
	channel := b.channelName(req.Topic)
	go func() {
		if err := client.Publish(ctx, channel, req.Payload).Err(); err != nil {
			b.log.Error("redisbridge: publish failed", mqttlog.Fields{"topic": req.Topic, "err": err.Error()})
			return
		}
		b.inj.InjectPubAck(mqttadapter.PubAckPayload{PacketID: packetID})
	}()
	return packetID, nil
}

// Disconnect tears down every active subscription and reports completion
// via InjectDisconnect with Requested set, matching spec §4.4's "clean
// disconnect" semantics.
func (b *Backend) Disconnect() error {
	b.mu.Lock()
	for filter, sub := range b.subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		delete(b.subs, filter)
	}
	b.mu.Unlock()

	go b.inj.InjectDisconnect(mqttadapter.DisconnectPayload{Requested: true})
	return nil
}

// Close releases the Redis client. The adapter policy calls it on entering
// Fatal; Disconnect alone leaves the client open.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for filter, sub := range b.subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		delete(b.subs, filter)
	}
	if b.cancel != nil {
		b.cancel()
	}
	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	return err
}

// channelName maps an MQTT topic to the Redis channel PUBLISH targets.
func (b *Backend) channelName(topic string) string {
	name := strings.ReplaceAll(topic, "/", ".")
	if b.opts.Namespace == "" {
		return name
	}
	return b.opts.Namespace + ":" + name
}

// channelPattern maps an MQTT topic filter (which may contain the "+"
// single-level and "#" multi-level wildcards) to a Redis PSUBSCRIBE glob.
// Both wildcard forms collapse to "*": Redis pattern matching has no
// level-bounded wildcard, so a "+"-filter will over-match a "#"-filter
// would also match — acceptable for a demo bridge, not a protocol-faithful
// broker.
func (b *Backend) channelPattern(filter string) string {
	pattern := strings.ReplaceAll(filter, "/", ".")
	pattern = strings.ReplaceAll(pattern, "+", "*")
	pattern = strings.ReplaceAll(pattern, "#", "*")
	if b.opts.Namespace == "" {
		return pattern
	}
	return b.opts.Namespace + ":" + pattern
}

// topicFromChannel reverses channelName for delivered messages.
func (b *Backend) topicFromChannel(channel string) string {
	name := channel
	if b.opts.Namespace != "" {
		name = strings.TrimPrefix(channel, b.opts.Namespace+":")
	}
	return strings.ReplaceAll(name, ".", "/")
}
