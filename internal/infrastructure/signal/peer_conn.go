package signal

import (
	"sync"
	"sync/atomic"
	"time"

	"midirelay/internal/core/domain"

	"github.com/gorilla/websocket"
)

// wsPeer is one relay connection. Frames are queued on send and written by
// a single writer goroutine, so a slow socket only delays its own queue.
type wsPeer struct {
	peer  domain.Peer
	conn  *websocket.Conn
	send  chan domain.Frame
	done  chan struct{}
	state atomic.Int32

	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn, peer domain.Peer, queueSize int) *wsPeer {
	p := &wsPeer{
		peer: peer,
		conn: conn,
		send: make(chan domain.Frame, queueSize),
		done: make(chan struct{}),
	}
	p.state.Store(int32(domain.PeerStateAccepted))
	return p
}

func (p *wsPeer) ID() domain.PeerID { return p.peer.ID }

func (p *wsPeer) Peer() domain.Peer { return p.peer }

func (p *wsPeer) State() domain.PeerState {
	return domain.PeerState(p.state.Load())
}

func (p *wsPeer) MarkOpen() {
	p.state.CompareAndSwap(int32(domain.PeerStateAccepted), int32(domain.PeerStateOpen))
}

func (p *wsPeer) MarkClosing() {
	for {
		cur := p.state.Load()
		if cur == int32(domain.PeerStateClosing) || cur == int32(domain.PeerStateClosed) {
			return
		}
		if p.state.CompareAndSwap(cur, int32(domain.PeerStateClosing)) {
			return
		}
	}
}

func (p *wsPeer) Send(frame domain.Frame) error {
	if p.State() != domain.PeerStateOpen {
		return domain.ErrPeerClosed
	}

	select {
	case <-p.done:
		return domain.ErrPeerClosed
	default:
	}

	select {
	case p.send <- frame:
		return nil
	default:
		return domain.ErrSendQueueFull
	}
}

// Close sends a best-effort close frame and drops the socket. The send
// channel is never closed, so late Sends fail instead of panicking.
func (p *wsPeer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.state.Store(int32(domain.PeerStateClosing))
		close(p.done)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = p.conn.Close()

		p.state.Store(int32(domain.PeerStateClosed))
	})
	return err
}

func (p *wsPeer) writePump(pingInterval, writeTimeout time.Duration, onError func(error)) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return

		case frame := <-p.send:
			opcode := websocket.TextMessage
			if frame.Encoding == domain.EncodingBinary {
				opcode = websocket.BinaryMessage
			}
			p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := p.conn.WriteMessage(opcode, frame.Data); err != nil {
				onError(err)
				return
			}

		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				onError(err)
				return
			}
		}
	}
}
