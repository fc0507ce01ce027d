package broker

import (
	"errors"
	"io"
	"net"
	"time"

	"eventbroker/internal/model"
	"eventbroker/internal/wire"
)

// runIngressAcceptLoop accepts publisher connections on the ingress
// listener. Each connection is served by its own goroutine reading a
// stream of BrokerMessage{EVENT} frames; a malformed frame is dropped
// and counted, never closes the connection.
func (s *Server) runIngressAcceptLoop() {
	for {
		conn, err := s.ingressListener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error().Err(err).Msg("ingress accept error")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveIngressConn(conn)
		}()
	}
}

func (s *Server) serveIngressConn(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Info().Str("remote", remote).Msg("publisher connected")

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.waitForIngressCapacity()

		msg, err := wire.ReadMessage(conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.log.Info().Str("remote", remote).Msg("publisher disconnected")
				return
			}
			s.metrics.DecodeErrors.Inc()
			s.log.Warn().Err(err).Str("remote", remote).Msg("ingress: dropping malformed frame")
			continue
		}
		if msg.Type != wire.MessageTypeEvent || msg.Event == nil {
			s.metrics.DecodeErrors.Inc()
			s.log.Warn().Str("remote", remote).Msg("ingress: non-event message on publisher port, dropping")
			continue
		}

		s.metrics.EventsIngested.Inc()
		select {
		case s.ingressQueue <- *msg.Event:
		case <-s.ctx.Done():
			return
		}
	}
}

// waitForIngressCapacity refuses to read the next frame off the socket
// while the ingress queue is over IngressFlowThreshold full, so a slow
// matcher applies natural TCP backpressure to the publisher.
func (s *Server) waitForIngressCapacity() {
	limit := int(float64(cap(s.ingressQueue)) * s.cfg.IngressFlowThreshold)
	if limit <= 0 {
		return
	}
	for len(s.ingressQueue) >= limit {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// runIngressWorker drains the ingress queue, matches each event, and
// routes resulting notifications to the owning broker.
func (s *Server) runIngressWorker() {
	for {
		select {
		case ev := <-s.ingressQueue:
			s.metrics.IngressQueueDepth.Set(float64(len(s.ingressQueue)))
			s.processEvent(ev)
		case <-s.ctx.Done():
			return
		}
	}
}

// processEvent matches ev and delivers each resulting notification to
// its subscription's home broker: locally via the egress registry if
// this broker owns the subscription, otherwise routed over the peer
// overlay.
func (s *Server) processEvent(ev model.Event) {
	notifications := s.matcher.Match(ev)

	s.procMu.Lock()
	s.processedEvents++
	s.procMu.Unlock()

	if len(notifications) > 0 {
		s.metrics.EventsMatched.Inc()
	}

	for _, n := range notifications {
		s.deliver(n)
	}
}

// deliver routes a matched notification to wherever its subscriber's
// home broker is: directly onto the local egress queue if we are that
// home broker, or over the peer overlay otherwise.
func (s *Server) deliver(n model.Notification) {
	s.mu.RLock()
	home, known := s.homeBrokers[n.SubscriptionID]
	s.mu.RUnlock()

	if !known || home == s.cfg.BrokerID {
		s.egress.enqueue(n)
		s.metrics.NotificationsSent.Inc()
		return
	}

	if err := s.peers.RouteNotification(n, home, s.newMessageID()); err != nil {
		s.log.Error().Err(err).Str("subscription_id", n.SubscriptionID).Str("home_broker", home).
			Msg("failed to route notification to home broker")
	}
}
