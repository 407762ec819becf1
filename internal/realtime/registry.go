// Package realtime keeps the in-process set of live subscribers per topic and fans events out to them.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultSendTimeout   = 5 * time.Second
	defaultMaxConcurrent = 32
)

// Connection is an output handle for one subscriber, typically a WebSocket.
// Send must honour the context deadline.
type Connection interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	SendTimeout        time.Duration
	MaxConcurrentSends int
	Logger             *zap.Logger
	Registerer         prometheus.Registerer
}

// Registry maps topics to their open connections. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	topics        map[string]map[int64]*subscription
	online        map[string]struct{}
	connections   int
	nextID        int64
	sendTimeout   time.Duration
	maxConcurrent int
	logger        *zap.Logger
	metrics       *registryMetrics
}

type subscription struct {
	id     int64
	topic  string
	userID string
	conn   Connection
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	sendTimeout := cfg.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	maxConcurrent := cfg.MaxConcurrentSends
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		topics:        make(map[string]map[int64]*subscription),
		online:        make(map[string]struct{}),
		sendTimeout:   sendTimeout,
		maxConcurrent: maxConcurrent,
		logger:        logger,
		metrics:       newRegistryMetrics(cfg.Registerer),
	}
}

// Subscribe registers conn under topic on behalf of userID and marks the user online.
func (r *Registry) Subscribe(topic, userID string, conn Connection) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub := &subscription{id: r.nextID, topic: topic, userID: userID, conn: conn}
	subscribers, ok := r.topics[topic]
	if !ok {
		subscribers = make(map[int64]*subscription)
		r.topics[topic] = subscribers
	}
	subscribers[sub.id] = sub
	r.connections++
	if userID != "" {
		r.online[userID] = struct{}{}
	}
	r.updateGaugesLocked()
	return sub.id
}

// Unsubscribe removes a subscription. It reports whether the subscription was still registered.
//
// The user is dropped from the online set even when other subscriptions remain open.
func (r *Registry) Unsubscribe(topic string, subscriptionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(topic, subscriptionID)
}

func (r *Registry) removeLocked(topic string, subscriptionID int64) bool {
	subscribers := r.topics[topic]
	sub, ok := subscribers[subscriptionID]
	if !ok {
		return false
	}
	delete(subscribers, subscriptionID)
	r.connections--
	if len(subscribers) == 0 {
		delete(r.topics, topic)
	}
	delete(r.online, sub.userID)
	r.updateGaugesLocked()
	return true
}

// Broadcast delivers event to every connection subscribed to topic when the call starts.
// Connections that fail or exceed the send timeout are closed and pruned. It returns the number of
// successful deliveries and never fails.
func (r *Registry) Broadcast(ctx context.Context, topic string, event Event) int {
	return r.broadcast(ctx, topic, event, 0)
}

// BroadcastExcept behaves like Broadcast but skips the given subscription.
func (r *Registry) BroadcastExcept(ctx context.Context, topic string, event Event, skipID int64) int {
	return r.broadcast(ctx, topic, event, skipID)
}

func (r *Registry) broadcast(ctx context.Context, topic string, event Event, skipID int64) int {
	snapshot := r.snapshot(topic, skipID)
	r.metrics.broadcasts.WithLabelValues(event.Type).Inc()
	if len(snapshot) == 0 {
		return 0
	}

	var (
		failedMu sync.Mutex
		failed   []*subscription
		group    errgroup.Group
	)
	group.SetLimit(r.maxConcurrent)
	for _, sub := range snapshot {
		group.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
			defer cancel()
			if err := sub.conn.Send(sendCtx, event); err != nil {
				r.logger.Debug("realtime send failed",
					zap.String("topic", topic),
					zap.String("user_id", sub.userID),
					zap.Int64("subscription_id", sub.id),
					zap.Error(err),
				)
				failedMu.Lock()
				failed = append(failed, sub)
				failedMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	for _, sub := range failed {
		r.mu.Lock()
		removed := r.removeLocked(sub.topic, sub.id)
		r.mu.Unlock()
		if removed {
			r.metrics.pruned.Inc()
			_ = sub.conn.Close()
		}
	}

	delivered := len(snapshot) - len(failed)
	r.metrics.delivered.Add(float64(delivered))
	return delivered
}

func (r *Registry) snapshot(topic string, skipID int64) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	subscribers := r.topics[topic]
	copies := make([]*subscription, 0, len(subscribers))
	for _, sub := range subscribers {
		if sub.id == skipID {
			continue
		}
		copies = append(copies, sub)
	}
	return copies
}

// OnlineUsers returns the identifiers of users marked online, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	users := make([]string, 0, len(r.online))
	for userID := range r.online {
		users = append(users, userID)
	}
	r.mu.RUnlock()
	sort.Strings(users)
	return users
}

// IsOnline reports whether the user is marked online.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[userID]
	return ok
}

// TopicSize returns the number of subscriptions registered under topic.
func (r *Registry) TopicSize(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// TopicCount returns the number of topics with at least one subscription.
func (r *Registry) TopicCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

func (r *Registry) updateGaugesLocked() {
	r.metrics.connections.Set(float64(r.connections))
	r.metrics.topics.Set(float64(len(r.topics)))
	r.metrics.onlineUsers.Set(float64(len(r.online)))
}
