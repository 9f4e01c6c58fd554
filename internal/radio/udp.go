package radio

import (
	"fmt"
	"net"

	"github.com/apex/log"

	"must-hop/internal/packet"
)

const udpInboxDepth = 128

// UDPConfig describes a UDP bench transport: one socket per node and a
// static peer list standing in for radio reachability.
type UDPConfig struct {
	Address uint32   // this node's mesh address
	Listen  string   // local UDP listen address, e.g. ":9301"
	Peers   []string // datagram targets for every Send
}

// UDP carries mesh frames as UDP datagrams. It exists for multi-process
// bench deployments where real radios are unavailable; losses and
// reordering of UDP keep the transport honest about radio semantics.
type UDP struct {
	addr  uint32
	conn  *net.UDPConn
	peers []*net.UDPAddr
	inbox chan []byte
	log   *log.Entry
}

func NewUDP(cfg UDPConfig) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp4", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("udp radio: resolve listen %q: %w", cfg.Listen, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("udp radio: listen: %w", err)
	}

	peers := make([]*net.UDPAddr, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		raddr, err := net.ResolveUDPAddr("udp4", p)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("udp radio: resolve peer %q: %w", p, err)
		}
		peers = append(peers, raddr)
	}

	u := &UDP{
		addr:  cfg.Address,
		conn:  conn,
		peers: peers,
		inbox: make(chan []byte, udpInboxDepth),
		log:   log.WithField("radio", "udp").WithField("node", cfg.Address),
	}
	go u.readLoop()
	return u, nil
}

func (u *UDP) readLoop() {
	buf := make([]byte, packet.MaxFrameSize)
	for {
		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			// socket closed
			return
		}
		frame := make([]byte, n)
		copy(frame, buf[:n])
		select {
		case u.inbox <- frame:
		default:
			u.log.Debug("inbox full, frame lost")
		}
	}
}

func (u *UDP) OwnAddress() uint32 { return u.addr }

func (u *UDP) Send(frame []byte) error {
	var failed int
	for _, peer := range u.peers {
		if _, err := u.conn.WriteToUDP(frame, peer); err != nil {
			failed++
		}
	}
	if failed == len(u.peers) && len(u.peers) > 0 {
		return ErrTransmitFailure
	}
	return nil
}

func (u *UDP) TryReceive() ([]byte, bool) {
	select {
	case frame := <-u.inbox:
		return frame, true
	default:
		return nil, false
	}
}

func (u *UDP) Close() error { return u.conn.Close() }
