package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aethersystems/aether/internal/auth"
	"github.com/aethersystems/aether/internal/eventbus"
	"github.com/aethersystems/aether/internal/memorystore"
	"github.com/aethersystems/aether/internal/process"
	"github.com/aethersystems/aether/internal/types"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = 20 * time.Second
	sendBufferSize  = 64
)

// Server is the ClientGateway: the WebSocket endpoint fronting the kernel.
type Server struct {
	auth     *auth.Service
	bus      *eventbus.Bus
	manager  *process.Manager
	memory   *memorystore.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New constructs a Server. Every collaborator except logger must be
// non-nil; a nil logger defaults to slog.Default().
func New(authSvc *auth.Service, bus *eventbus.Bus, manager *process.Manager, memory *memorystore.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		auth:    authSvc,
		bus:     bus,
		manager: manager,
		memory:  memory,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	watchMetrics(bus)
	return s
}

// Mux builds the HTTP handler tree named in spec §6: /ws upgrade, /metrics,
// /healthz.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", s)
	mux.HandleFunc("/healthz", s.handleHealthz)
	registerMetrics(mux)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ServeHTTP authenticates the bearer token during the HTTP upgrade (spec
// §6) and, on success, upgrades to a WebSocket session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := auth.BearerToken(r.Header.Get("Authorization"))
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	identity, err := s.auth.Validate(token)
	if err != nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := &session{
		server:   s,
		conn:     conn,
		send:     make(chan Frame, sendBufferSize),
		ctx:      context.Background(),
		id:       uuid.NewString(),
		identity: identity,
		subs:     make(map[string]*eventbus.Subscription),
	}
	sess.run()
}

// session is one authenticated connection: a reader, a writer, and a set of
// live EventBus subscriptions, all communicating through sess.send (spec
// §5's one-reader/one-writer-per-session model).
type session struct {
	server   *Server
	conn     *websocket.Conn
	send     chan Frame
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
	id       string
	identity auth.Identity

	mu   sync.Mutex
	subs map[string]*eventbus.Subscription
}

// run drives the session for its lifetime: the write loop and every
// subscription's fan-out goroutine are tracked in sess.group so a single
// errgroup governs their shutdown once readLoop returns (spec §5's
// one-reader/one-writer-per-session model, extended to the per-subscription
// forwarders spawned by "subscribe").
func (sess *session) run() {
	gatewaySessionsActive.Inc()
	defer sess.close()

	ctx, cancel := context.WithCancel(sess.ctx)
	sess.ctx = ctx
	sess.cancel = cancel
	sess.group, _ = errgroup.WithContext(ctx)

	sess.group.Go(func() error {
		sess.writeLoop()
		return nil
	})
	sess.enqueue(eventFrame("connection", map[string]string{"sessionId": sess.id}))
	sess.enqueue(eventFrame("kernel.ready", map[string]string{"sessionId": sess.id}))

	sess.readLoop()
	cancel()
	_ = sess.group.Wait()
}

func (sess *session) close() {
	gatewaySessionsActive.Dec()
	sess.cancel()
	sess.mu.Lock()
	for topic, sub := range sess.subs {
		sess.server.bus.Unsubscribe(sub)
		delete(sess.subs, topic)
	}
	sess.mu.Unlock()
	close(sess.send)
	_ = sess.conn.Close()
}

func (sess *session) readLoop() {
	sess.conn.SetReadLimit(maxPayloadBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		req, err := decodeRequest(data)
		if err != nil {
			continue
		}
		sess.dispatch(req)
	}
}

func (sess *session) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			return
		case frame, ok := <-sess.send:
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue delivers frame to the write loop without blocking the caller; a
// full session buffer drops the frame rather than stall the Gateway's
// per-subscription fan-out goroutine.
func (sess *session) enqueue(frame Frame) {
	select {
	case sess.send <- frame:
	default:
		sess.server.logger.Warn("gateway: session send buffer full, dropping frame", "session", sess.id, "type", frame.Type)
	}
}

// isAdmin reports whether the session's role is admin (spec §6
// authorization rules).
func (sess *session) isAdmin() bool {
	return sess.identity.Role == types.RoleAdmin
}

func (sess *session) dispatch(req request) {
	data, err := sess.handle(req)
	if err != nil {
		if perr, ok := err.(*ProtocolError); ok {
			sess.enqueue(responseErr(req.ID, perr.Code, perr.Message))
			return
		}
		sess.enqueue(responseErr(req.ID, CodeInternal, err.Error()))
		return
	}
	sess.enqueue(responseOK(req.ID, data))
}

func (sess *session) handle(req request) (any, error) {
	switch req.Type {
	case "subscribe":
		return sess.handleSubscribe(req.Params)
	case "unsubscribe":
		return sess.handleUnsubscribe(req.Params)
	case "process.spawn":
		return sess.handleProcessSpawn(req.Params)
	case "process.kill":
		return sess.handleProcessKill(req.Params)
	case "process.pause":
		return sess.handleProcessPause(req.Params)
	case "process.resume":
		return sess.handleProcessResume(req.Params)
	case "process.list":
		return sess.handleProcessList()
	case "process.get":
		return sess.handleProcessGet(req.Params)
	case "process.logs":
		return sess.handleProcessLogs(req.Params)
	case "process.sendMessage":
		return sess.handleProcessSendMessage(req.Params)
	case "process.approve":
		return sess.handleProcessApprove(req.Params, true)
	case "process.reject":
		return sess.handleProcessApprove(req.Params, false)
	case "process.continue":
		return sess.handleProcessContinue(req.Params)
	case "memory.recall":
		return sess.handleMemoryRecall(req.Params)
	case "memory.remember":
		return sess.handleMemoryRemember(req.Params)
	case "memory.forget":
		return sess.handleMemoryForget(req.Params)
	default:
		return nil, NewProtocolError(CodeInvalidArgument, fmt.Sprintf("unknown request type %q", req.Type))
	}
}

// authorizeProcess enforces spec §6's authorization rule: admins may act on
// any process; users only on their own.
func (sess *session) authorizeProcess(pid int64) error {
	proc, err := sess.server.manager.Get(pid)
	if err != nil {
		return NewProtocolError(CodeNotFound, err.Error())
	}
	if !sess.isAdmin() && proc.OwnerUID != sess.identity.UID {
		return NewProtocolError(CodeForbidden, "process not owned by this session")
	}
	return nil
}
