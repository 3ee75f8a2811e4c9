package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"phasecraft.ai/internal/protocol"
	"phasecraft.ai/internal/sim/packet"
	"phasecraft.ai/internal/sim/world"
)

// Server accepts player connections. A client sends HELLO, waits for WELCOME
// and then sends PACKET messages, each answered by an ACK. Packets are queued
// for the next tick. A name has at most one connection; reconnecting under a
// name resumes that player.
type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	online map[string]bool
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	s := &Server{
		world:  w,
		log:    logger,
		online: map[string]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		player, out := s.handshake(conn)
		if player == "" {
			return
		}
		defer s.release(player)
		s.log.Printf("player %s connected from %s", player, r.RemoteAddr)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypePacket {
				continue
			}
			var pm protocol.PacketMsg
			if err := json.Unmarshal(msg, &pm); err != nil {
				sendLatest(out, s.ack("", false, protocol.ErrProtoBadRequest, err.Error()))
				continue
			}
			sendLatest(out, s.accept(player, pm))
		}
		s.log.Printf("player %s disconnected", player)
	}
}

func (s *Server) accept(player string, pm protocol.PacketMsg) []byte {
	if pm.ProtocolVersion != protocol.Version {
		return s.ack(pm.ID, false, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	pk, err := protocol.DecodePacket(pm)
	if err != nil {
		return s.ack(pm.ID, false, protocol.ErrBadRequest, err.Error())
	}
	if !s.world.Submit(packet.Inbound{Player: player, Packet: pk}) {
		return s.ack(pm.ID, false, protocol.ErrWorldBusy, "inbox full")
	}
	return s.ack(pm.ID, true, "", "")
}

func (s *Server) ack(id string, accepted bool, code, message string) []byte {
	b, _ := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          id,
		Accepted:        accepted,
		Code:            code,
		Message:         message,
		ServerTick:      s.world.CurrentTick(),
	})
	return b
}

func (s *Server) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.online[name] {
		return false
	}
	s.online[name] = true
	return true
}

func (s *Server) release(name string) {
	s.mu.Lock()
	delete(s.online, name)
	s.mu.Unlock()
}

func (s *Server) handshake(conn *websocket.Conn) (player string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return "", nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return "", nil
	}
	name := strings.TrimSpace(hello.PlayerName)
	if name == "" {
		closeWith(conn, websocket.ClosePolicyViolation, "empty player_name")
		return "", nil
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}

	if !s.claim(name) {
		s.reject(conn, "player "+name+" is already connected")
		return "", nil
	}
	defer func() {
		if player == "" {
			s.release(name)
		}
	}()

	resp := make(chan error, 1)
	if !s.world.Join(world.JoinRequest{Name: name, Resume: true, Resp: resp}) {
		closeWith(conn, websocket.CloseTryAgainLater, "server busy")
		return "", nil
	}
	select {
	case err = <-resp:
	case <-time.After(5 * time.Second):
		closeWith(conn, websocket.CloseTryAgainLater, "join timed out")
		return "", nil
	}
	if err != nil {
		s.reject(conn, err.Error())
		return "", nil
	}

	cfg := s.world.Config()
	if err := writeJSON(conn, protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		Player:          name,
		WorldID:         cfg.ID,
		Tick:            s.world.CurrentTick(),
		TickRateHz:      cfg.TickRateHz,
	}); err != nil {
		return "", nil
	}
	return name, make(chan []byte, maxQ)
}

func (s *Server) reject(conn *websocket.Conn, msg string) {
	_ = writeJSON(conn, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		Code:            protocol.ErrConflict,
		Message:         msg,
		ServerTick:      s.world.CurrentTick(),
	})
	closeWith(conn, websocket.ClosePolicyViolation, "join rejected")
}

// sendLatest queues b, dropping the oldest queued message when full.
func sendLatest(out chan []byte, b []byte) {
	select {
	case out <- b:
		return
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
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
