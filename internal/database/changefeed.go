package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/safar/go-marketplace/internal/config"
)

// ChangeFeedChannel is the NOTIFY channel the row_change triggers publish on.
// It is fixed by migrations/000002_change_feed.up.sql.
const ChangeFeedChannel = "row_changes"

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventAll    EventType = "*"
)

// ChangeEvent is one row change published by the table triggers in
// migrations/. OldRecord is only set for UPDATE and DELETE.
type ChangeEvent struct {
	Table     string         `json:"table"`
	Type      EventType      `json:"type"`
	Record    map[string]any `json:"record"`
	OldRecord map[string]any `json:"old_record,omitempty"`
}

func (e ChangeEvent) Int64(key string) (int64, bool) {
	return int64Field(e.Record, key)
}

func (e ChangeEvent) OldInt64(key string) (int64, bool) {
	return int64Field(e.OldRecord, key)
}

func (e ChangeEvent) Bool(key string) (bool, bool) {
	return boolField(e.Record, key)
}

func (e ChangeEvent) OldBool(key string) (bool, bool) {
	return boolField(e.OldRecord, key)
}

func int64Field(rec map[string]any, key string) (int64, bool) {
	switch v := rec[key].(type) {
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

func boolField(rec map[string]any, key string) (bool, bool) {
	v, ok := rec[key].(bool)
	return v, ok
}

// DecodeChangeEvent parses a NOTIFY payload. Numbers are kept as json.Number
// so that bigint ids survive the round trip.
func DecodeChangeEvent(payload string) (ChangeEvent, error) {
	var e ChangeEvent
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return ChangeEvent{}, fmt.Errorf("decode change event: %w", err)
	}
	if e.Table == "" || e.Type == "" {
		return ChangeEvent{}, fmt.Errorf("decode change event: missing table or type")
	}
	return e, nil
}

// Filter selects events by table, event type and optionally one column
// equal to Value (compared on the new record).
type Filter struct {
	Table  string
	Event  EventType
	Column string
	Value  string
}

func (f Filter) Matches(e ChangeEvent) bool {
	if f.Table != "" && f.Table != e.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAll && f.Event != e.Type {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := e.Record[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// Subscription is a stream of change events matching one filter. It cannot
// be restarted: once unsubscribed the channel is closed for good.
type Subscription struct {
	id     uint64
	filter Filter
	ch     chan ChangeEvent
	feed   *ChangeFeed
	once   sync.Once
}

func (s *Subscription) Events() <-chan ChangeEvent {
	return s.ch
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s.id)
	})
}

type notificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type FeedHooks struct {
	OnEvent func(ChangeEvent)
	OnDrop  func(ChangeEvent)
}

// ChangeFeed fans Postgres notifications out to in-process subscribers.
// Delivery never blocks the feed: a subscriber whose buffer is full misses
// the event.
type ChangeFeed struct {
	source notificationSource
	log    *zap.Logger
	hooks  FeedHooks
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

func NewChangeFeed(dbURL string, cfg config.RealtimeConfig, log *zap.Logger, hooks FeedHooks) (*ChangeFeed, error) {
	if log == nil {
		log = zap.NewNop()
	}

	listener := pq.NewListener(dbURL, cfg.MinReconnectInterval, cfg.MaxReconnectInterval,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
				log.Warn("change feed connection problem", zap.Error(err))
			case pq.ListenerEventReconnected:
				log.Info("change feed reconnected")
			}
		})

	if err := listener.Listen(ChangeFeedChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen on %s: %w", ChangeFeedChannel, err)
	}

	return newChangeFeed(listener, cfg.SubscriberBuffer, log, hooks), nil
}

// NewLocalChangeFeed returns a feed without a Postgres listener. Events only
// enter it through Publish.
func NewLocalChangeFeed(buffer int, log *zap.Logger, hooks FeedHooks) *ChangeFeed {
	return newChangeFeed(localSource{}, buffer, log, hooks)
}

type localSource struct{}

func (localSource) NotificationChannel() <-chan *pq.Notification { return nil }
func (localSource) Ping() error                                  { return nil }
func (localSource) Close() error                                 { return nil }

func newChangeFeed(source notificationSource, buffer int, log *zap.Logger, hooks FeedHooks) *ChangeFeed {
	if buffer <= 0 {
		buffer = 64
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ChangeFeed{
		source: source,
		log:    log,
		hooks:  hooks,
		buffer: buffer,
		subs:   make(map[uint64]*Subscription),
	}
}

func (f *ChangeFeed) Subscribe(filter Filter) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	sub := &Subscription{
		id:     f.nextID,
		filter: filter,
		ch:     make(chan ChangeEvent, f.buffer),
		feed:   f,
	}
	if f.closed {
		close(sub.ch)
		return sub
	}
	f.subs[sub.id] = sub
	return sub
}

func (f *ChangeFeed) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if sub, ok := f.subs[id]; ok {
		delete(f.subs, id)
		close(sub.ch)
	}
}

// Publish delivers e to every matching subscriber.
func (f *ChangeFeed) Publish(e ChangeEvent) {
	if f.hooks.OnEvent != nil {
		f.hooks.OnEvent(e)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, sub := range f.subs {
		if !sub.filter.Matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			f.log.Warn("dropping change event for slow subscriber",
				zap.String("table", e.Table),
				zap.String("type", string(e.Type)))
			if f.hooks.OnDrop != nil {
				f.hooks.OnDrop(e)
			}
		}
	}
}

// Run pumps notifications until ctx is cancelled or the source closes.
func (f *ChangeFeed) Run(ctx context.Context) error {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	notifications := f.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ping.C:
			go func() {
				if err := f.source.Ping(); err != nil {
					f.log.Warn("change feed ping failed", zap.Error(err))
				}
			}()
		case n, ok := <-notifications:
			if !ok {
				return nil
			}
			if n == nil {
				// nil follows a reconnect; notifications sent meanwhile are lost
				f.log.Info("change feed connection re-established")
				continue
			}
			e, err := DecodeChangeEvent(n.Extra)
			if err != nil {
				f.log.Error("discarding malformed change event", zap.Error(err))
				continue
			}
			f.Publish(e)
		}
	}
}

// Close stops the listener and closes every subscription channel.
func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	for id, sub := range f.subs {
		delete(f.subs, id)
		close(sub.ch)
	}
	f.mu.Unlock()

	return f.source.Close()
}
