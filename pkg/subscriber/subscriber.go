// Package subscriber implements the broker's subscriber client: register
// subscriptions over the management port, stream notifications off the
// egress port, and track per-notification delivery latency.
package subscriber

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// Stats accumulates what the subscriber has observed.
type Stats struct {
	mu                sync.Mutex
	NotificationsRecv int64
	LatencySumMS      int64
	LatencyMaxMS      int64
}

func (s *Stats) record(latencyMS int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NotificationsRecv++
	s.LatencySumMS += latencyMS
	if latencyMS > s.LatencyMaxMS {
		s.LatencyMaxMS = latencyMS
	}
}

// AverageLatencyMS returns the mean observed latency, or 0 if nothing
// has been received yet.
func (s *Stats) AverageLatencyMS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.NotificationsRecv == 0 {
		return 0
	}
	return float64(s.LatencySumMS) / float64(s.NotificationsRecv)
}

// Client is a subscriber connected to one broker. It keeps a local
// registry of the subscriptions it has registered; it does not reconnect
// to the broker or replay those subscriptions itself.
type Client struct {
	brokerAddr   string
	subscriberID string
	log          zerolog.Logger

	managementConn net.Conn

	mu            sync.Mutex
	subscriptions map[string]model.Subscription

	Stats *Stats

	notifyCh chan model.Notification
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Config configures a subscriber client.
type Config struct {
	BrokerAddr   string
	SubscriberID string
}

// New dials the broker's management port. The egress connection is
// opened lazily by Listen.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", managementAddr(cfg.BrokerAddr))
	if err != nil {
		return nil, fmt.Errorf("subscriber: dial management port: %w", err)
	}
	return &Client{
		brokerAddr:     cfg.BrokerAddr,
		subscriberID:   cfg.SubscriberID,
		log:            log.With().Str("component", "subscriber").Str("subscriber_id", cfg.SubscriberID).Logger(),
		managementConn: conn,
		subscriptions:  make(map[string]model.Subscription),
		Stats:          &Stats{},
		notifyCh:       make(chan model.Notification, 256),
		stopCh:         make(chan struct{}),
	}, nil
}

// managementAddr derives the management port from the subscriber egress
// address: the broker's management port is the egress port + 1000.
func managementAddr(subscriberAddr string) string {
	host, portStr, err := net.SplitHostPort(subscriberAddr)
	if err != nil {
		return subscriberAddr
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return subscriberAddr
	}
	return net.JoinHostPort(host, strconv.Itoa(port+1000))
}

// Notifications returns the channel onto which every received
// notification is delivered, after latency has been recorded.
func (c *Client) Notifications() <-chan model.Notification { return c.notifyCh }

// Subscribe registers sub with the broker and, on success, adds it to
// the local registry.
func (c *Client) Subscribe(sub model.Subscription) error {
	if sub.SubscriptionID == "" {
		sub.SubscriptionID = uuid.NewString()
	}
	sub.SubscriberID = c.subscriberID

	env := wire.BrokerMessage{Type: wire.MessageTypeSubscription, Subscription: &sub}
	payload, err := wire.EncodeBrokerMessage(env)
	if err != nil {
		return fmt.Errorf("subscriber: encode subscription: %w", err)
	}
	if err := wire.WriteFrame(c.managementConn, append([]byte{0}, payload...)); err != nil {
		return fmt.Errorf("subscriber: send subscribe request: %w", err)
	}

	status, body, err := readManagementReply(c.managementConn)
	if err != nil {
		return fmt.Errorf("subscriber: read subscribe reply: %w", err)
	}
	if status != 0 {
		return fmt.Errorf("subscriber: broker rejected subscription: %s", body)
	}

	c.mu.Lock()
	c.subscriptions[sub.SubscriptionID] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe removes a subscription by ID.
func (c *Client) Unsubscribe(subscriptionID string) error {
	env := wire.BrokerMessage{Type: wire.MessageTypeSubscription, Subscription: &model.Subscription{
		SubscriptionID: subscriptionID,
		Kind:           model.KindSimple,
		Conditions:     []model.FilterCondition{{FieldName: "category", Operator: model.OpEQ, Value: ""}},
	}}
	payload, err := wire.EncodeBrokerMessage(env)
	if err != nil {
		return fmt.Errorf("subscriber: encode unsubscribe: %w", err)
	}
	if err := wire.WriteFrame(c.managementConn, append([]byte{1}, payload...)); err != nil {
		return fmt.Errorf("subscriber: send unsubscribe request: %w", err)
	}
	status, body, err := readManagementReply(c.managementConn)
	if err != nil {
		return fmt.Errorf("subscriber: read unsubscribe reply: %w", err)
	}
	if status != 0 {
		return fmt.Errorf("subscriber: broker rejected unsubscribe: %s", body)
	}

	c.mu.Lock()
	delete(c.subscriptions, subscriptionID)
	c.mu.Unlock()
	return nil
}

func readManagementReply(conn net.Conn) (byte, string, error) {
	resp, err := wire.ReadFrame(conn)
	if err != nil {
		return 0, "", err
	}
	if len(resp) < 1 {
		return 0, "", fmt.Errorf("subscriber: empty management reply")
	}
	return resp[0], string(resp[1:]), nil
}

// Listen dials the egress port, sends the subscriber_id handshake, and
// streams notifications, recording latency and pushing each onto
// Notifications() until Close is called or the connection drops.
func (c *Client) Listen() error {
	conn, err := net.Dial("tcp", c.brokerAddr)
	if err != nil {
		return fmt.Errorf("subscriber: dial egress port: %w", err)
	}

	if err := wire.WriteFrame(conn, []byte(c.subscriberID)); err != nil {
		conn.Close()
		return fmt.Errorf("subscriber: send egress handshake: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer conn.Close()
		c.readLoop(conn)
	}()
	// Close must unblock a read loop waiting in ReadMessage.
	go func() {
		<-c.stopCh
		conn.Close()
	}()
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		msg, err := wire.ReadMessage(conn)
		if err != nil {
			c.log.Warn().Err(err).Msg("egress connection lost")
			return
		}
		if msg.Type != wire.MessageTypeNotification || msg.Notification == nil {
			continue
		}

		nowMS := time.Now().UnixMilli()
		latency := nowMS - msg.Notification.Timestamp
		if latency < 0 {
			latency = 0
		}
		c.Stats.record(latency)

		select {
		case c.notifyCh <- *msg.Notification:
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the read loop and closes the management connection.
func (c *Client) Close() {
	close(c.stopCh)
	c.managementConn.Close()
	c.wg.Wait()
}

// SubscribeSimple registers n SIMPLE subscriptions, each an equality
// condition on the "category" field against the given category.
func (c *Client) SubscribeSimple(n int, category string) error {
	for i := 0; i < n; i++ {
		sub := model.Subscription{
			SubscriptionID: uuid.NewString(),
			Kind:           model.KindSimple,
			Conditions: []model.FilterCondition{
				{FieldName: "category", Operator: model.OpEQ, Value: category},
			},
		}
		if err := c.Subscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

// SubscribeComplex registers n COMPLEX (windowed) subscriptions on the
// given category/field/aggregation.
func (c *Client) SubscribeComplex(n int, category, field string, windowSize int32, agg model.AggregationType, op model.ComparisonOperator, threshold string) error {
	for i := 0; i < n; i++ {
		sub := model.Subscription{
			SubscriptionID: uuid.NewString(),
			Kind:           model.KindComplex,
			Conditions: []model.FilterCondition{
				{FieldName: "category", Operator: model.OpEQ, Value: category},
				{FieldName: field, Operator: op, Value: threshold, IsWindowed: true},
			},
			WindowConfig: &model.WindowConfig{WindowSize: windowSize, AggregationType: agg},
		}
		if err := c.Subscribe(sub); err != nil {
			return err
		}
	}
	return nil
}

// nonEQOperators enumerates every non-EQ operator SubscribeWithEqualityRatio
// may draw from for the ratio's complement.
var nonEQOperators = []model.ComparisonOperator{model.OpNE, model.OpGT, model.OpGE, model.OpLT, model.OpLE}

// SubscribeWithEqualityRatio registers n subscriptions filtering on
// field, where ratio is the fraction using EQ and the remainder draw
// uniformly from the other five operators.
func (c *Client) SubscribeWithEqualityRatio(n int, field, value string, ratio float64) error {
	for i := 0; i < n; i++ {
		op := model.OpEQ
		if rand.Float64() >= ratio {
			op = nonEQOperators[rand.Intn(len(nonEQOperators))]
		}
		sub := model.Subscription{
			SubscriptionID: uuid.NewString(),
			Kind:           model.KindSimple,
			Conditions: []model.FilterCondition{
				{FieldName: field, Operator: op, Value: value},
			},
		}
		if err := c.Subscribe(sub); err != nil {
			return err
		}
	}
	return nil
}
