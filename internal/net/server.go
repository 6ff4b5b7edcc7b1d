package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"skoll/internal/common"
	"skoll/internal/engine"
	"skoll/internal/utils"
)

const (
	MAX_RECV_SIZE      = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Minute
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
)

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	conn net.Conn
}

// ClientMessage links a message to the client sending it.
type ClientMessage struct {
	clientAddress string
	message       Message
}

// Server accepts order flow over TCP and funnels every parsed message
// through one session-handling goroutine. That goroutine is the only
// caller into the matching engine, which keeps each book a serialized
// state machine without any locking inside the engine.
type Server struct {
	address string
	port    int
	engine  *engine.Engine
	pool    utils.WorkerPool
	cancel  context.CancelFunc

	clientSessions     map[string]ClientSession
	ownerSessions      map[string]string
	clientSessionsLock sync.Mutex
	clientMessages     chan ClientMessage
}

func New(address string, port int, eng *engine.Engine) *Server {
	return &Server{
		address:        address,
		port:           port,
		engine:         eng,
		pool:           utils.NewWorkerPool(defaultNWorkers),
		clientSessions: make(map[string]ClientSession),
		ownerSessions:  make(map[string]string),
		clientMessages: make(chan ClientMessage, 1),
	}
}

func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	s.cancel()
}

func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	// Setup a cancel on the context for future shutdown.
	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	// Start a tcp listener.
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Start the session handler.
	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server running")

	// Start accepting connections.
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}

			log.Info().
				Str("address", conn.RemoteAddr().String()).
				Msg("new client added")
			// Add the client to client sessions we are tracking.
			// We expect to potentially maintain a long TCP session.
			s.addClientSession(conn)

			// Pass over the connection to be read from.
			s.pool.AddTask(conn)
		}
	}
}

// ReportEvent delivers maker-side fill notifications to connected owners.
// The taker learns about its fills in the synchronous response; the maker
// was not part of that exchange, so it is told here.
func (s *Server) ReportEvent(ev common.Event) error {
	if ev.Type != common.EventFill || ev.MakerOwner == "" {
		return nil
	}
	report := Report{
		MessageType: ExecutionReport,
		Event:       common.EventFill,
		Side:        ev.Side.Opposite(),
		Price:       ev.Price,
		Quantity:    ev.Quantity,
		Remaining:   ev.MakerRemaining,
		Timestamp:   uint64(ev.Timestamp),
		OrderID:     ev.MakerID,
	}
	return s.sendToOwner(ev.MakerOwner, report.Serialize())
}

func (s *Server) sendToOwner(owner string, payload []byte) error {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	address, ok := s.ownerSessions[owner]
	if !ok {
		return nil // owner not connected, nothing to deliver
	}
	client, ok := s.clientSessions[address]
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := client.conn.Write(payload); err != nil {
		delete(s.clientSessions, address)
		delete(s.ownerSessions, owner)
		return fmt.Errorf("unable to send report: %w", err)
	}
	return nil
}

func (s *Server) sendToAddress(address string, payload []byte) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	client, ok := s.clientSessions[address]
	if !ok {
		return
	}
	if _, err := client.conn.Write(payload); err != nil {
		log.Error().Err(err).Str("address", address).Msg("unable to send response")
		delete(s.clientSessions, address)
	}
}

// sessionHandler reads off incoming messages from clients and runs them
// through the engine, one at a time. This is the single execution context
// serializing all book mutations.
func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case message := <-s.clientMessages:
			switch m := message.message.(type) {
			case NewOrderMessage:
				s.bindOwner(m.Owner, message.clientAddress)
				s.handleNewOrder(message.clientAddress, m)
			case CancelOrderMessage:
				s.bindOwner(m.Owner, message.clientAddress)
				s.handleCancel(message.clientAddress, m)
			case BaseMessage:
				// Heartbeat, nothing to do.
			}
		}
	}
}

func (s *Server) handleNewOrder(address string, m NewOrderMessage) {
	result, err := s.engine.Submit(engine.Submission{
		Market:   m.Market,
		Owner:    m.Owner,
		Side:     m.Side,
		Type:     m.OrderType,
		Price:    m.Price,
		Quantity: m.Quantity,
		Tag:      m.Tag,
	})
	if err != nil {
		s.sendToAddress(address, errorReport(m.Token, result.OrderID, err))
		return
	}

	// One execution report per fill, then a final report carrying the
	// order's end state.
	for _, fill := range result.Fills {
		report := Report{
			MessageType: ExecutionReport,
			Event:       common.EventFill,
			Side:        m.Side,
			Price:       fill.Price,
			Quantity:    fill.Quantity,
			Remaining:   result.Remaining,
			Timestamp:   uint64(time.Now().UnixNano()),
			OrderID:     result.OrderID,
			Token:       m.Token,
		}
		s.sendToAddress(address, report.Serialize())
	}
	final := Report{
		MessageType: ExecutionReport,
		Event:       statusEvent(result.Status),
		Side:        m.Side,
		Price:       m.Price,
		Quantity:    m.Quantity,
		Remaining:   result.Remaining,
		Timestamp:   uint64(time.Now().UnixNano()),
		OrderID:     result.OrderID,
		Token:       m.Token,
	}
	s.sendToAddress(address, final.Serialize())
}

func (s *Server) handleCancel(address string, m CancelOrderMessage) {
	removed, err := s.engine.Cancel(m.Market, m.OrderID, m.Owner)
	if err != nil {
		s.sendToAddress(address, errorReport(uuid.UUID{}, m.OrderID, err))
		return
	}
	report := Report{
		MessageType: ExecutionReport,
		Event:       common.EventCancel,
		Side:        removed.Side,
		Price:       removed.Price,
		Quantity:    removed.Quantity,
		Timestamp:   uint64(time.Now().UnixNano()),
		OrderID:     removed.ID,
	}
	s.sendToAddress(address, report.Serialize())
}

func statusEvent(status engine.Status) common.EventType {
	switch status {
	case engine.StatusResting:
		return common.EventRest
	case engine.StatusDiscarded:
		return common.EventDiscard
	default:
		return common.EventFill
	}
}

func errorReport(token uuid.UUID, id common.OrderID, err error) []byte {
	report := Report{
		MessageType: ErrorReport,
		Timestamp:   uint64(time.Now().UnixNano()),
		OrderID:     id,
		Token:       token,
		Err:         err.Error(),
	}
	return report.Serialize()
}

// handleConnection is a short-lived worker method which reads the next
// message off the connection, parses and passes it forward to
// sessionHandler to handle it. If the connection dies, the client session
// is cleaned up. This method does not lock any client session directly
// and gives up early if the connection is terminated. Therefore this
// method is thread safe on map accesses.
// Note, any error returned from here is fatal.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	address := conn.RemoteAddr().String()

	// Set max read timeout.
	if err := conn.SetReadDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().
			Str("address", address).
			Err(err).
			Msg("failed setting deadline for connection")
		return nil
	}

	buffer := make([]byte, MAX_RECV_SIZE)
	select {
	case <-t.Dying():
		return nil
	default:
		n, err := conn.Read(buffer)
		if err != nil {
			log.Info().
				Err(err).
				Str("address", address).
				Msg("connection closed")

			// If a read from a client fails, it is likely that the client
			// has exited. Clean up the client session.
			s.deleteClientSession(address)
			if err := conn.Close(); err != nil {
				log.Error().Str("address", address).Err(err).Msg("closing connection")
			}
			return nil
		}

		message, err := parseMessage(buffer[:n])
		if err != nil {
			log.Error().
				Err(err).
				Str("address", address).
				Msg("error parsing message")
			s.sendToAddress(address, errorReport(uuid.UUID{}, common.OrderID{}, err))
		} else {
			// Pass over to the message handling buffer.
			s.clientMessages <- ClientMessage{
				message:       message,
				clientAddress: address,
			}
		}

		// Push the client connection back to handle the next message.
		s.pool.AddTask(conn)
	}
	return nil
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.clientSessions[conn.RemoteAddr().String()] = ClientSession{
		conn: conn,
	}
}

// bindOwner remembers which session an owner submits from, so maker-side
// reports can find their way back.
func (s *Server) bindOwner(owner, address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	s.ownerSessions[owner] = address
}

// deleteClientSession is an atomic map remove
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	delete(s.clientSessions, address)
	for owner, addr := range s.ownerSessions {
		if addr == address {
			delete(s.ownerSessions, owner)
		}
	}
}
