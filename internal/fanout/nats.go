package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/ernie/warden/internal/domain"
)

// NATSSink publishes every event to <prefix>.<event type>
type NATSSink struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSSink connects to the bus at url
func NewNATSSink(url, prefix string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name("warden"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSSink{conn: conn, prefix: prefix}, nil
}

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(eventType string) string {
	return s.prefix + "." + eventType
}

// Publish hands the event to the client's outbound buffer; it does not wait
// for the server
func (s *NATSSink) Publish(event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", event.Type).Msg("Error marshaling event")
		return
	}
	if err := s.conn.Publish(s.Subject(event.Type), data); err != nil {
		log.Warn().Err(err).Str("event", event.Type).Msg("Error publishing to NATS")
	}
}

// Close flushes pending messages and closes the connection
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
	}
}

// StartEmbeddedNATS runs an in-process NATS server. A port of -1 picks a
// random free port.
func StartEmbeddedNATS(host string, port int) (*server.Server, error) {
	ns, err := server.NewServer(&server.Options{
		Host:   host,
		Port:   port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready on %s:%d", host, port)
	}
	log.Info().Str("url", ns.ClientURL()).Msg("Embedded NATS server started")
	return ns, nil
}
