package broker

import (
	"errors"
	"net"

	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// managementAction distinguishes a Subscribe from an Unsubscribe request
// on the management port, since a bare model.Subscription can't carry
// its own verb.
type managementAction byte

const (
	actionSubscribe   managementAction = 0
	actionUnsubscribe managementAction = 1
)

type managementStatus byte

const (
	statusOK    managementStatus = 0
	statusError managementStatus = 1
)

// runManagementAcceptLoop serves Subscribe/Unsubscribe request/reply
// connections, returning an ack carrying the registered subscription_id.
func (s *Server) runManagementAcceptLoop() {
	for {
		conn, err := s.managementListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("management accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveManagementConn(conn)
		}()
	}
}

func (s *Server) serveManagementConn(conn net.Conn) {
	defer conn.Close()

	for {
		req, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		if len(req) < 1 {
			s.writeManagementError(conn, "empty management request")
			continue
		}

		action := managementAction(req[0])
		msg, err := wire.DecodeBrokerMessage(req[1:])
		if err != nil || msg.Subscription == nil {
			s.metrics.DecodeErrors.Inc()
			s.writeManagementError(conn, "malformed subscription payload")
			continue
		}

		switch action {
		case actionSubscribe:
			s.handleSubscribe(conn, *msg.Subscription)
		case actionUnsubscribe:
			s.handleUnsubscribe(conn, msg.Subscription.SubscriptionID)
		default:
			s.writeManagementError(conn, "unknown management action")
		}
	}
}

func (s *Server) handleSubscribe(conn net.Conn, sub model.Subscription) {
	if err := s.matcher.Register(sub); err != nil {
		s.writeManagementError(conn, err.Error())
		return
	}

	s.mu.Lock()
	s.homeBrokers[sub.SubscriptionID] = s.cfg.BrokerID
	s.subs[sub.SubscriptionID] = sub
	s.mu.Unlock()
	s.metrics.ActiveSubscriptions.Inc()

	summary := model.SubscriptionSummary{
		SubscriptionID: sub.SubscriptionID,
		HomeBrokerID:   s.cfg.BrokerID,
		Subscription:   sub,
	}
	if err := s.peers.AnnounceSubscription(summary, s.newMessageID()); err != nil {
		s.log.Error().Err(err).Str("subscription_id", sub.SubscriptionID).Msg("failed to announce subscription to peers")
	}

	s.writeManagementOK(conn, sub.SubscriptionID)
}

func (s *Server) handleUnsubscribe(conn net.Conn, subscriptionID string) {
	s.matcher.Unregister(subscriptionID)

	s.mu.Lock()
	_, known := s.subs[subscriptionID]
	delete(s.homeBrokers, subscriptionID)
	delete(s.subs, subscriptionID)
	s.mu.Unlock()
	if known {
		s.metrics.ActiveSubscriptions.Dec()
	}

	if err := s.peers.AnnounceUnsubscribe(subscriptionID, s.newMessageID()); err != nil {
		s.log.Error().Err(err).Str("subscription_id", subscriptionID).Msg("failed to announce unsubscribe to peers")
	}

	s.writeManagementOK(conn, subscriptionID)
}

func (s *Server) writeManagementOK(conn net.Conn, subscriptionID string) {
	payload := append([]byte{byte(statusOK)}, []byte(subscriptionID)...)
	if err := wire.WriteFrame(conn, payload); err != nil {
		s.log.Warn().Err(err).Msg("management: failed to write ack")
	}
}

func (s *Server) writeManagementError(conn net.Conn, reason string) {
	payload := append([]byte{byte(statusError)}, []byte(reason)...)
	if err := wire.WriteFrame(conn, payload); err != nil {
		s.log.Warn().Err(err).Msg("management: failed to write error reply")
	}
}

// handlePeerSubscriptionSummary registers a remote subscription locally
// so this broker can match on its behalf, and records its home broker so
// resulting notifications get routed back there.
func (s *Server) handlePeerSubscriptionSummary(summary model.SubscriptionSummary) {
	if summary.HomeBrokerID == s.cfg.BrokerID {
		return
	}
	if err := s.matcher.Register(summary.Subscription); err != nil {
		s.log.Warn().Err(err).Str("subscription_id", summary.SubscriptionID).Msg("failed to mirror peer subscription")
		return
	}
	s.mu.Lock()
	s.homeBrokers[summary.SubscriptionID] = summary.HomeBrokerID
	s.subs[summary.SubscriptionID] = summary.Subscription
	s.mu.Unlock()
	s.metrics.ActiveSubscriptions.Inc()
}

func (s *Server) handlePeerUnsubscribe(subscriptionID string) {
	s.matcher.Unregister(subscriptionID)
	s.mu.Lock()
	if _, ok := s.subs[subscriptionID]; ok {
		delete(s.subs, subscriptionID)
		delete(s.homeBrokers, subscriptionID)
		s.metrics.ActiveSubscriptions.Dec()
	}
	s.mu.Unlock()
}

// handlePeerNotification delivers a notification a peer matched on our
// behalf (because the matching subscription's home is us) to the local
// subscriber's egress queue.
func (s *Server) handlePeerNotification(n model.Notification) {
	s.egress.enqueue(n)
	s.metrics.NotificationsSent.Inc()
}
