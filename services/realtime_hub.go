package services

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Andrlu75/healtCoach-sub000/drafts"
	"github.com/Andrlu75/healtCoach-sub000/logger"
)

// writeWait bounds one socket write.
var writeWait = 5 * time.Second

// WSConn is the part of a websocket connection the hub writes to.
type WSConn interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type WSClient struct {
	UserID uint
	Conn   WSConn

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

func (c *WSClient) Write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.Conn.WriteMessage(messageType, data)
}

// RealtimeHub pushes draft and plan status changes to the editors a user
// has open.
type RealtimeHub struct {
	mu      sync.RWMutex
	clients map[uint]map[*WSClient]struct{}
}

func NewRealtimeHub() *RealtimeHub {
	return &RealtimeHub{clients: make(map[uint]map[*WSClient]struct{})}
}

func (h *RealtimeHub) Register(c *WSClient) {
	h.mu.Lock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[*WSClient]struct{})
	}
	h.clients[c.UserID][c] = struct{}{}
	h.mu.Unlock()
}

func (h *RealtimeHub) Unregister(c *WSClient) {
	h.mu.Lock()
	if set := h.clients[c.UserID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(h.clients, c.UserID)
		}
	}
	h.mu.Unlock()
	_ = c.Conn.Close()
}

// Connections reports how many sockets userID has open.
func (h *RealtimeHub) Connections(userID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Broadcast sends payload as JSON to every connection of userID.
func (h *RealtimeHub) Broadcast(userID uint, payload any) {
	msg, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("realtime payload not encodable", "user", userID, "err", err)
		return
	}
	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.Write(websocket.TextMessage, msg); err != nil {
			logger.Debug("realtime write failed", "user", userID, "err", err)
			h.Unregister(c)
		}
	}
}

// DraftObserver forwards draft lifecycle events to the draft owner.
func (h *RealtimeHub) DraftObserver() func(drafts.Event) {
	return func(ev drafts.Event) {
		h.Broadcast(ev.Owner, ev)
	}
}
