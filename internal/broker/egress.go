package broker

import (
	"errors"
	"net"
	"sync"

	"eventbroker/internal/metrics"
	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// subscriberQueue is one connected subscriber's bounded outbound
// notification channel. Overflow drops the oldest queued notification
// rather than the newest, incrementing drops_overflow.
type subscriberQueue struct {
	subscriberID string
	ch           chan model.Notification
	mu           sync.Mutex
	closed       bool
}

func (q *subscriberQueue) push(n model.Notification, reg *metrics.Registry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	for {
		select {
		case q.ch <- n:
			reg.EgressQueueDepth.WithLabelValues(q.subscriberID).Set(float64(len(q.ch)))
			return
		default:
			select {
			case <-q.ch:
				reg.NotificationsDroppedOverflow.Inc()
			default:
			}
		}
	}
}

func (q *subscriberQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// egressRegistry tracks every subscriber currently connected to this
// broker's egress port, keyed by subscriber_id. A notification for a
// subscriber_id with no connected queue is simply dropped: the subscriber
// isn't listening right now.
type egressRegistry struct {
	mu        sync.RWMutex
	queues    map[string]*subscriberQueue
	queueSize int
	metrics   *metrics.Registry
}

func newEgressRegistry(queueSize int, reg *metrics.Registry) *egressRegistry {
	return &egressRegistry{
		queues:    make(map[string]*subscriberQueue),
		queueSize: queueSize,
		metrics:   reg,
	}
}

func (r *egressRegistry) register(subscriberID string) *subscriberQueue {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := &subscriberQueue{subscriberID: subscriberID, ch: make(chan model.Notification, r.queueSize)}
	r.queues[subscriberID] = q
	r.metrics.ActiveSubscribers.Set(float64(len(r.queues)))
	return q
}

func (r *egressRegistry) unregister(subscriberID string, q *subscriberQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.queues[subscriberID]; ok && current == q {
		delete(r.queues, subscriberID)
		r.metrics.ActiveSubscribers.Set(float64(len(r.queues)))
	}
	q.close()
}

func (r *egressRegistry) enqueue(n model.Notification) {
	r.mu.RLock()
	q, ok := r.queues[n.SubscriberID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	q.push(n, r.metrics)
}

func (r *egressRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.queues)
}

func (r *egressRegistry) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, q := range r.queues {
		q.close()
	}
	r.queues = make(map[string]*subscriberQueue)
}

// runEgressAcceptLoop accepts subscriber connections on the egress
// listener. A subscriber's first frame is its bare subscriber_id, which
// registers the connection to a queue before streaming notifications;
// every frame after that is a BrokerMessage{NOTIFICATION} pushed out as
// it's delivered.
func (s *Server) runEgressAcceptLoop() {
	for {
		conn, err := s.egressListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("egress accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveEgressConn(conn)
		}()
	}
}

func (s *Server) serveEgressConn(conn net.Conn) {
	defer conn.Close()

	idBytes, err := wire.ReadFrame(conn)
	if err != nil {
		s.log.Warn().Err(err).Msg("egress: failed to read subscriber_id handshake")
		return
	}
	subscriberID := string(idBytes)
	s.log.Info().Str("subscriber_id", subscriberID).Msg("subscriber connected")

	q := s.egress.register(subscriberID)
	defer s.egress.unregister(subscriberID, q)

	// A blocked/dead reader surfaces here and tears the connection (and
	// queue) down: drop pending notifications for that subscriber and
	// close the queue.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		buf := make([]byte, 1)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n, ok := <-q.ch:
			if !ok {
				return
			}
			if err := wire.WriteMessage(conn, wire.BrokerMessage{
				MessageID:    s.newMessageID(),
				Timestamp:    n.Timestamp,
				Type:         wire.MessageTypeNotification,
				Notification: &n,
			}); err != nil {
				s.log.Warn().Err(err).Str("subscriber_id", subscriberID).Msg("egress write failed, closing connection")
				return
			}
		case <-disconnected:
			return
		case <-s.ctx.Done():
			return
		}
	}
}
