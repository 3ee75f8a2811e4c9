// Package eventstream broadcasts event records to websocket subscribers on
// the loopback interface.
package eventstream

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"phasecraft.ai/internal/protocol"
	"phasecraft.ai/internal/sim/event"
)

// Hub is an event.Recorder that forwards every record to the connected
// subscribers. Slow subscribers lose their oldest queued records.
type Hub struct {
	log        *log.Logger
	sendBuffer int

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[uint64]*subscriber

	nextID  atomic.Uint64
	dropped atomic.Uint64
}

type subscriber struct {
	kinds map[event.Kind]bool
	out   chan []byte
}

func (s *subscriber) wants(k event.Kind) bool { return len(s.kinds) == 0 || s.kinds[k] }

func NewHub(logger *log.Logger, sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		log:        logger,
		sendBuffer: sendBuffer,
		subs:       map[uint64]*subscriber{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

// RecordEvent implements event.Recorder.
func (h *Hub) RecordEvent(r event.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs) == 0 {
		return nil
	}
	var b []byte
	for _, s := range h.subs {
		if !s.wants(r.Kind) {
			continue
		}
		if b == nil {
			var err error
			if b, err = json.Marshal(protocol.NewEventMsg(r)); err != nil {
				return err
			}
		}
		if !sendLatest(s.out, b) {
			h.dropped.Add(1)
		}
	}
	return nil
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped counts records discarded for slow subscribers.
func (h *Hub) Dropped() uint64 { return h.dropped.Load() }

// Handler serves the stream. ?kind=change_block,chat limits the kinds sent.
func (h *Hub) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		kinds := parseKinds(r.URL.Query().Get("kind"))

		conn, err := h.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		id := h.nextID.Add(1)
		sub := &subscriber{kinds: kinds, out: make(chan []byte, h.sendBuffer)}
		h.mu.Lock()
		h.subs[id] = sub
		h.mu.Unlock()
		defer func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		}()
		h.log.Printf("subscriber S%d connected (%d kinds)", id, len(kinds))

		// Reader goroutine: only watches for the peer going away.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-gone:
				h.log.Printf("subscriber S%d disconnected", id)
				return
			case b := <-sub.out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}
}

func parseKinds(q string) map[event.Kind]bool {
	var kinds map[event.Kind]bool
	for _, k := range strings.Split(q, ",") {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if kinds == nil {
			kinds = map[event.Kind]bool{}
		}
		kinds[event.Kind(k)] = true
	}
	return kinds
}

// sendLatest queues b, evicting the oldest queued message when full. It
// reports false when something was dropped.
func sendLatest(out chan []byte, b []byte) bool {
	select {
	case out <- b:
		return true
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- b:
	default:
	}
	return false
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
