package events

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"animehub/internal/logging"
)

const registerType = "register"

type registerMessage struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// UDPNotifier pushes one datagram per finished run to every registered
// listener. Listeners register by sending {"type":"register","name":"..."}.
type UDPNotifier struct {
	Addr string

	mu      sync.RWMutex
	clients map[string]*net.UDPAddr
	conn    *net.UDPConn
}

func NewUDPNotifier(addr string) *UDPNotifier {
	return &UDPNotifier{Addr: addr, clients: make(map[string]*net.UDPAddr)}
}

func (n *UDPNotifier) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", n.Addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	return n.Serve(ctx, conn)
}

// Serve reads registrations from conn until ctx is cancelled.
func (n *UDPNotifier) Serve(ctx context.Context, conn *net.UDPConn) error {
	n.mu.Lock()
	n.conn = conn
	n.mu.Unlock()
	logging.Info().Str("addr", conn.LocalAddr().String()).Msg("[udp-notify] listening")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, 2048)
	for {
		size, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		var msg registerMessage
		if err := json.Unmarshal(buf[:size], &msg); err != nil || msg.Name == "" {
			logging.Debug().Str("remote", addr.String()).Msg("[udp-notify] invalid message")
			continue
		}
		if msg.Type != registerType {
			continue
		}
		n.mu.Lock()
		n.clients[msg.Name] = addr
		n.mu.Unlock()
		logging.Info().Str("name", msg.Name).Str("remote", addr.String()).Msg("[udp-notify] registered")
	}
}

func (n *UDPNotifier) Clients() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.clients)
}

// Publish implements Publisher. Only run.finished events are sent.
func (n *UDPNotifier) Publish(ev SyncEvent) {
	if ev.Type != TypeRunFinished {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	n.mu.RLock()
	conn := n.conn
	targets := make(map[string]*net.UDPAddr, len(n.clients))
	for name, addr := range n.clients {
		targets[name] = addr
	}
	n.mu.RUnlock()
	if conn == nil || len(targets) == 0 {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		logging.Warn().Err(err).Msg("[udp-notify] marshal failed")
		return
	}
	for name, addr := range targets {
		// one retry, then forget the listener
		if _, err := conn.WriteToUDP(payload, addr); err == nil {
			continue
		}
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			logging.Warn().Err(err).Str("name", name).Msg("[udp-notify] send failed, dropping listener")
			n.mu.Lock()
			delete(n.clients, name)
			n.mu.Unlock()
		}
	}
}

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ev SyncEvent) {
	for _, p := range m {
		p.Publish(ev)
	}
}
