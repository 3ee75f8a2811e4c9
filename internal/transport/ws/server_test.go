package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"phasecraft.ai/internal/protocol"
	"phasecraft.ai/internal/sim/event"
	"phasecraft.ai/internal/sim/world"
)

type fixture struct {
	url   string
	chats chan string
}

func startWorld(t *testing.T) fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	bus := event.NewBus()
	chats := make(chan string, 8)
	bus.On("test", event.KindChat, func(ev event.Event) {
		if c, ok := ev.(*event.Chat); ok {
			chats <- c.Player + ": " + c.Message
		}
	})
	w, err := world.New(world.Config{TickRateHz: 100, FlatRadius: 1, Logger: quiet}, bus)
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	srv := httptest.NewServer(NewServer(w, quiet).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return fixture{url: "ws" + strings.TrimPrefix(srv.URL, "http"), chats: chats}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func hello(t *testing.T, conn *websocket.Conn, name string) {
	t.Helper()
	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: name}); err != nil {
		t.Fatalf("write hello: %v", err)
	}
}

func TestServer_JoinAndChat(t *testing.T) {
	f := startWorld(t)
	conn := dial(t, f.url)
	hello(t, conn, "alice")

	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome || welcome.Player != "alice" || welcome.WorldID != "overworld" {
		t.Fatalf("welcome = %+v", welcome)
	}

	body, _ := json.Marshal(map[string]string{"message": "hello world"})
	if err := conn.WriteJSON(protocol.PacketMsg{Type: protocol.TypePacket, ProtocolVersion: protocol.Version, ID: "c1", Kind: "chat", Body: body}); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	var ack protocol.AckMsg
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if !ack.Accepted || ack.AckFor != "c1" {
		t.Fatalf("ack = %+v", ack)
	}

	select {
	case got := <-f.chats:
		if got != "alice: hello world" {
			t.Fatalf("chat = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("chat event not posted")
	}
}

func TestServer_RejectsBadPackets(t *testing.T) {
	f := startWorld(t)
	conn := dial(t, f.url)
	hello(t, conn, "bob")
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	cases := []struct {
		msg  protocol.PacketMsg
		code string
	}{
		{protocol.PacketMsg{Type: protocol.TypePacket, ProtocolVersion: protocol.Version, ID: "k", Kind: "teleport"}, protocol.ErrBadRequest},
		{protocol.PacketMsg{Type: protocol.TypePacket, ProtocolVersion: "0.1", ID: "v", Kind: "chat"}, protocol.ErrProtoBadRequest},
	}
	for _, tc := range cases {
		if err := conn.WriteJSON(tc.msg); err != nil {
			t.Fatalf("write: %v", err)
		}
		var ack protocol.AckMsg
		if err := conn.ReadJSON(&ack); err != nil {
			t.Fatalf("read ack: %v", err)
		}
		if ack.Accepted || ack.Code != tc.code || ack.AckFor != tc.msg.ID {
			t.Fatalf("ack = %+v, want code %s", ack, tc.code)
		}
	}
}

func TestServer_DuplicateNameRejected(t *testing.T) {
	f := startWorld(t)
	first := dial(t, f.url)
	hello(t, first, "carol")
	var welcome protocol.WelcomeMsg
	if err := first.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}

	second := dial(t, f.url)
	hello(t, second, "carol")
	var ack protocol.AckMsg
	if err := second.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Accepted || ack.Code != protocol.ErrConflict {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestServer_ReconnectResumesPlayer(t *testing.T) {
	f := startWorld(t)
	first := dial(t, f.url)
	hello(t, first, "dave")
	var welcome protocol.WelcomeMsg
	if err := first.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	_ = first.Close()

	// The server releases the name once it notices the first connection is
	// gone; until then a second HELLO is refused.
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn := dial(t, f.url)
		hello(t, conn, "dave")
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if base.Type == protocol.TypeWelcome {
			if err := json.Unmarshal(msg, &welcome); err != nil || welcome.Player != "dave" {
				t.Fatalf("welcome = %+v, %v", welcome, err)
			}
			return
		}
		var ack protocol.AckMsg
		if err := json.Unmarshal(msg, &ack); err != nil || ack.Code != protocol.ErrConflict {
			t.Fatalf("ack = %+v, %v", ack, err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("reconnect never resumed the player")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_HandshakeRequiresHello(t *testing.T) {
	f := startWorld(t)
	conn := dial(t, f.url)
	if err := conn.WriteJSON(protocol.PacketMsg{Type: protocol.TypePacket, ProtocolVersion: protocol.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
}
