package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/sirupsen/logrus"
)

// GossipMsgType enumerates the wire message kinds gossiped between nodes
// (spec §6).
type GossipMsgType string

const (
	MsgBlock          GossipMsgType = "BLOCK"
	MsgTransaction    GossipMsgType = "TRANSACTION"
	MsgPeerDiscovery  GossipMsgType = "PEER_DISCOVERY"
	MsgSyncRequest    GossipMsgType = "SYNC_REQUEST"
	MsgSyncResponse   GossipMsgType = "SYNC_RESPONSE"
	MsgFallbackReq    GossipMsgType = "FALLBACK_REQUEST"
	MsgAck            GossipMsgType = "ACK"
)

// InitialTTL is the hop count a freshly originated gossip message starts
// with (spec §6).
const InitialTTL = 3

// GossipMessage is the envelope carried over the pubsub topic for every
// message type spec §6 enumerates.
type GossipMessage struct {
	Type      GossipMsgType `json:"type"`
	Payload   []byte        `json:"payload"`
	SenderID  string        `json:"sender_id"`
	Timestamp float64       `json:"timestamp"`
	MessageID string        `json:"message_id"`
	TTL       int           `json:"ttl"`
	Signature []byte        `json:"signature,omitempty"`
}

const gossipTopic = "logichain/gossip/v1"

// EventKind enumerates the in-process subscription stream spec §6's
// subscribe_events operation exposes.
type EventKind string

const (
	EventBlockAppended        EventKind = "block_appended"
	EventReorg                EventKind = "reorg"
	EventContractStateChanged EventKind = "contract_state_changed"
)

// DomainEvent is one notification delivered to subscribe_events listeners.
type DomainEvent struct {
	Kind EventKind
	Data interface{}
}

// EventBus is the single actor owning both the libp2p gossip channel and
// the in-process domain-event fan-out, adapted from the teacher's
// network.go (pubsub wiring) and event_management.go (Emit/subscribe
// pattern) merged into one component per spec §5's "one actor per
// concern" rule.
type EventBus struct {
	nodeID string

	host   hostCloser
	pubsub *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	mu          sync.RWMutex
	subscribers []chan DomainEvent
	seen        map[string]bool // message_id replay/loop suppression

	log *logrus.Entry
}

// hostCloser narrows libp2p's host.Host to what EventBus needs, keeping
// this file testable without a real network stack.
type hostCloser interface {
	Close() error
}

// NewEventBus bootstraps a libp2p host with gossipsub on listenAddr and
// subscribes to the single LogiChain gossip topic.
func NewEventBus(ctx context.Context, nodeID, listenAddr string) (*EventBus, error) {
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		return nil, WrapError(KindPersistenceIoError, "create libp2p host", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, WrapError(KindPersistenceIoError, "create gossipsub", err)
	}
	topic, err := ps.Join(gossipTopic)
	if err != nil {
		h.Close()
		return nil, WrapError(KindPersistenceIoError, "join gossip topic", err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		h.Close()
		return nil, WrapError(KindPersistenceIoError, "subscribe gossip topic", err)
	}

	eb := &EventBus{
		nodeID: nodeID,
		host:   h,
		pubsub: ps,
		topic:  topic,
		sub:    sub,
		seen:   make(map[string]bool),
		log:    logrus.WithField("component", "eventbus"),
	}
	go eb.readLoop(ctx)
	return eb, nil
}

// Publish gossips a new message of the given type, stamping a fresh
// message_id and the initial TTL.
func (eb *EventBus) Publish(ctx context.Context, typ GossipMsgType, payload []byte, now float64) error {
	msg := GossipMessage{
		Type:      typ,
		Payload:   payload,
		SenderID:  eb.nodeID,
		Timestamp: now,
		MessageID: uuid.NewString(),
		TTL:       InitialTTL,
	}
	return eb.publishRaw(ctx, msg)
}

func (eb *EventBus) publishRaw(ctx context.Context, msg GossipMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := eb.topic.Publish(ctx, data); err != nil {
		return WrapError(KindPersistenceIoError, "publish gossip message", err)
	}
	return nil
}

// readLoop consumes inbound gossip messages, relaying any with TTL
// remaining (after decrementing) and suppressing ones already seen
// (spec §6: "messages carry a decrementing TTL to bound relay depth").
func (eb *EventBus) readLoop(ctx context.Context) {
	for {
		m, err := eb.sub.Next(ctx)
		if err != nil {
			eb.log.WithError(err).Debug("gossip subscription closed")
			return
		}
		var msg GossipMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			eb.log.WithError(err).Warn("malformed gossip message")
			continue
		}
		if msg.SenderID == eb.nodeID {
			continue
		}
		eb.mu.Lock()
		already := eb.seen[msg.MessageID]
		eb.seen[msg.MessageID] = true
		eb.mu.Unlock()
		if already {
			continue
		}

		eb.emitLocal(typeToEventKind(msg.Type), msg)

		if msg.TTL > 0 {
			msg.TTL--
			if err := eb.publishRaw(ctx, msg); err != nil {
				eb.log.WithError(err).Debug("relay failed")
			}
		}
	}
}

func typeToEventKind(t GossipMsgType) EventKind {
	if t == MsgBlock {
		return EventBlockAppended
	}
	return EventKind(t)
}

// Subscribe returns a channel receiving every domain event emitted by this
// bus (both gossip-derived and locally-raised via Emit). Callers must drain
// the channel; EventBus drops events to slow subscribers rather than block.
func (eb *EventBus) Subscribe() <-chan DomainEvent {
	ch := make(chan DomainEvent, 64)
	eb.mu.Lock()
	eb.subscribers = append(eb.subscribers, ch)
	eb.mu.Unlock()
	return ch
}

// Emit raises a local domain event (block_appended, reorg,
// contract_state_changed) to every subscriber without touching the
// network.
func (eb *EventBus) Emit(kind EventKind, data interface{}) {
	eb.emitLocal(kind, data)
}

func (eb *EventBus) emitLocal(kind EventKind, data interface{}) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	ev := DomainEvent{Kind: kind, Data: data}
	for _, ch := range eb.subscribers {
		select {
		case ch <- ev:
		default:
			eb.log.Warn("subscriber channel full, dropping event")
		}
	}
}

// Close shuts down the pubsub subscription and libp2p host.
func (eb *EventBus) Close() error {
	eb.sub.Cancel()
	eb.topic.Close()
	return eb.host.Close()
}
