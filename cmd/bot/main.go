package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"phasecraft.ai/internal/protocol"
	"phasecraft.ai/internal/sim/capture"
	"phasecraft.ai/internal/sim/packet"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/play", "play ws url")
		name  = flag.String("name", "bot", "player name")
		every = flag.Duration("every", 2*time.Second, "interval between packets")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
		MaxQueue:        8,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	msgs := make(chan []byte, 16)
	go func() {
		defer close(msgs)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Printf("read: %v", err)
				return
			}
			msgs <- msg
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	ticker := time.NewTicker(*every)
	defer ticker.Stop()

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	var joined bool
	var n int
	for {
		select {
		case <-stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			joined = handleMessage(logger, msg) || joined
		case <-ticker.C:
			if !joined {
				continue
			}
			n++
			pm, err := nextPacket(r, n)
			if err != nil {
				logger.Fatalf("encode: %v", err)
			}
			if err := conn.WriteJSON(pm); err != nil {
				logger.Printf("send PACKET: %v", err)
				return
			}
		}
	}
}

// handleMessage logs a server message and reports whether it was WELCOME.
func handleMessage(logger *log.Logger, msg []byte) bool {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		var w protocol.WelcomeMsg
		if err := json.Unmarshal(msg, &w); err != nil {
			return false
		}
		logger.Printf("WELCOME player=%s world=%s tick=%d tick_rate=%d", w.Player, w.WorldID, w.Tick, w.TickRateHz)
		return true
	case protocol.TypeAck:
		var a protocol.AckMsg
		if err := json.Unmarshal(msg, &a); err != nil {
			return false
		}
		if !a.Accepted {
			logger.Printf("ACK %s rejected code=%s msg=%s", a.AckFor, a.Code, a.Message)
		}
	}
	return false
}

// nextPacket alternates between chatting and wandering near spawn.
func nextPacket(r *rand.Rand, n int) (protocol.PacketMsg, error) {
	var pk packet.Packet = packet.Chat{Message: fmt.Sprintf("bot message %d", n)}
	if n%2 == 0 {
		pk = packet.Move{To: capture.Pos{X: r.Intn(15) - 7, Y: 5, Z: r.Intn(15) - 7}}
	}
	env, err := packet.Encode(pk)
	if err != nil {
		return protocol.PacketMsg{}, err
	}
	return protocol.PacketMsg{
		Type:            protocol.TypePacket,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("P_%s_%d", pk.Kind(), n),
		Kind:            env.Kind,
		Body:            env.Body,
	}, nil
}
