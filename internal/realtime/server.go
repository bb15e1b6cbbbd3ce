// Package realtime pushes change-feed events to signed-in clients over a
// websocket.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/auth"
	"github.com/safar/go-marketplace/internal/database"
	"github.com/safar/go-marketplace/internal/models"
	"github.com/safar/go-marketplace/internal/notify"
)

const (
	MessageUnreadCount = "unread_count"
	MessageOrder       = "order"
	MessagePrivate     = "private_message"
	// MessageReady follows the subscriptions being set up.
	MessageReady = "ready"

	writeWait  = 10 * time.Second
	sendBuffer = 32
)

// Message is the JSON frame sent to clients.
type Message struct {
	Type   string         `json:"type"`
	Event  string         `json:"event,omitempty"`
	Record map[string]any `json:"record,omitempty"`
	Count  *int64         `json:"count,omitempty"`
}

func unreadMessage(n int64) Message {
	return Message{Type: MessageUnreadCount, Count: &n}
}

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*auth.Session, error)
}

type Observer interface {
	notify.Observer
	ClientConnected()
	ClientDisconnected()
}

type Server struct {
	auth         Authenticator
	feed         notify.Feed
	shops        notify.Store
	log          *zap.Logger
	observer     Observer
	pingInterval time.Duration
	upgrader     websocket.Upgrader
	sellers      *sellerHub

	base context.Context
	stop context.CancelFunc
}

func NewServer(authn Authenticator, feed notify.Feed, store notify.Store, log *zap.Logger, observer Observer, pingInterval time.Duration) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	base, stop := context.WithCancel(context.Background())
	var notifyObserver notify.Observer = observer

	return &Server{
		base:         base,
		stop:         stop,
		auth:         authn,
		feed:         feed,
		shops:        store,
		log:          log,
		observer:     observer,
		pingInterval: pingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// clients authenticate with a bearer token, not cookies
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sellers: newSellerHub(store, feed, log.Named("notify"), notifyObserver),
	}
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing access token", http.StatusUnauthorized)
		return
	}
	session, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid access token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s.serve(conn, session)
}

type client struct {
	conn   *websocket.Conn
	send   chan Message
	log    *zap.Logger
	closed chan struct{}
}

// enqueue never blocks. A client that cannot keep up loses messages.
func (c *client) enqueue(m Message) {
	select {
	case c.send <- m:
	case <-c.closed:
	default:
		c.log.Warn("dropping realtime message for slow client", zap.String("type", m.Type))
	}
}

// serve outlives the request context: the connection was hijacked and ends
// when the client leaves or the server closes.
func (s *Server) serve(conn *websocket.Conn, session *auth.Session) {
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	log := s.log.With(zap.Int64("user_id", session.UserID), zap.String("role", string(session.Role)))
	c := &client{
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		log:    log,
		closed: make(chan struct{}),
	}

	if s.observer != nil {
		s.observer.ClientConnected()
		defer s.observer.ClientDisconnected()
	}

	var wg sync.WaitGroup
	defer func() {
		cancel()
		close(c.closed)
		conn.Close()
		wg.Wait()
		log.Debug("realtime client disconnected")
	}()

	messages := s.feed.Subscribe(database.Filter{
		Table:  "private_messages",
		Event:  database.EventInsert,
		Column: "recipient_id",
		Value:  strconv.FormatInt(session.UserID, 10),
	})
	defer messages.Unsubscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pump(ctx, c, messages, MessagePrivate, nil)
	}()

	if session.Role == models.RoleSeller {
		if err := s.sellers.join(ctx, session.UserID, c); err != nil {
			log.Error("start notification handler", zap.Error(err))
			s.closeWith(conn, websocket.CloseInternalServerErr, "notifications unavailable")
			return
		}
		defer s.sellers.leave(session.UserID, c)

		orders := s.feed.Subscribe(database.Filter{Table: "orders", Event: database.EventAll})
		defer orders.Unsubscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.pump(ctx, c, orders, MessageOrder, func(e database.ChangeEvent) bool {
				return s.ownsShop(ctx, session.UserID, e)
			})
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.read(c, cancel)
	}()

	log.Debug("realtime client connected")
	c.enqueue(Message{Type: MessageReady})
	s.write(ctx, c)
}

func (s *Server) ownsShop(ctx context.Context, sellerID int64, e database.ChangeEvent) bool {
	shopID, ok := e.Int64("shop_id")
	if !ok {
		return false
	}
	shopIDs, err := s.shops.OwnedShopIDs(ctx, sellerID)
	if err != nil {
		s.log.Error("load owned shops", zap.Int64("seller_id", sellerID), zap.Error(err))
		return false
	}
	return slices.Contains(shopIDs, shopID)
}

// pump turns subscription events into client messages until ctx is done or
// the subscription ends.
func (s *Server) pump(ctx context.Context, c *client, sub *database.Subscription, kind string, keep func(database.ChangeEvent) bool) {
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if keep != nil && !keep(e) {
				continue
			}
			c.enqueue(Message{Type: kind, Event: string(e.Type), Record: e.Record})
		}
	}
}

// read drains client frames so that pongs and close frames are processed.
func (s *Server) read(c *client, cancel context.CancelFunc) {
	defer cancel()

	c.conn.SetReadLimit(4096)
	deadline := func() { c.conn.SetReadDeadline(time.Now().Add(2 * s.pingInterval)) }
	deadline()
	c.conn.SetPongHandler(func(string) error {
		deadline()
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.log.Debug("realtime read ended", zap.Error(err))
			}
			return
		}
	}
}

// write is the only goroutine writing to the connection.
func (s *Server) write(ctx context.Context, c *client) {
	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeWith(c.conn, websocket.CloseNormalClosure, "")
			return
		case m := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(m); err != nil {
				c.log.Debug("realtime write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.log.Debug("realtime ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// Close disconnects every client and stops the notification handlers.
func (s *Server) Close() {
	s.stop()
	s.sellers.stopAll()
}
