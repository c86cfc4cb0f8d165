// Package transport implements the socket multiplexer: it owns the
// control and data UDP sockets, runs one receive loop per socket, and
// serialises writes to each socket so that one send always produces
// exactly one whole datagram.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Port identifies which of the two sockets a datagram arrived on or is
// destined for.
type Port int

const (
	PortControl Port = iota
	PortData
)

func (p Port) String() string {
	if p == PortControl {
		return "control"
	}
	return "data"
}

// Handler receives inbound datagrams demultiplexed by port. Implementors
// must not block: receive loops call Handle synchronously and a blocking
// handler stalls all further reads on that socket. Slow work belongs on
// the event dispatch goroutine, not here.
type Handler interface {
	Handle(port Port, data []byte, from *net.UDPAddr)
}

// Multiplexer owns one UDP socket pair: a control port P and a data port
// P+1.
type Multiplexer struct {
	logger *slog.Logger

	controlConn *net.UDPConn
	dataConn    *net.UDPConn

	controlMu sync.Mutex
	dataMu    sync.Mutex

	wg sync.WaitGroup
}

// Bind opens both UDP sockets. controlPort is P; the data socket binds to
// P+1. Bind failure is the only fatal startup error; the session wraps it
// as ErrSocketBindFailed.
func Bind(controlPort int, logger *slog.Logger) (*Multiplexer, error) {
	controlAddr := &net.UDPAddr{Port: controlPort}
	controlConn, err := net.ListenUDP("udp", controlAddr)
	if err != nil {
		return nil, fmt.Errorf("bind control port %d: %w", controlPort, err)
	}
	dataAddr := &net.UDPAddr{Port: controlPort + 1}
	dataConn, err := net.ListenUDP("udp", dataAddr)
	if err != nil {
		controlConn.Close()
		return nil, fmt.Errorf("bind data port %d: %w", controlPort+1, err)
	}
	return &Multiplexer{logger: logger, controlConn: controlConn, dataConn: dataConn}, nil
}

// Start spawns the two receive loops. It returns immediately; loops run
// until ctx is cancelled.
func (m *Multiplexer) Start(ctx context.Context, h Handler) {
	m.wg.Add(2)
	go m.receiveLoop(ctx, PortControl, m.controlConn, h)
	go m.receiveLoop(ctx, PortData, m.dataConn, h)
}

// Wait blocks until both receive loops have returned (after ctx passed to
// Start is cancelled and the sockets are closed).
func (m *Multiplexer) Wait() {
	m.wg.Wait()
}

// Close drops both sockets. Any receive loop blocked in ReadFromUDP
// unblocks with an error and returns.
func (m *Multiplexer) Close() error {
	err1 := m.controlConn.Close()
	err2 := m.dataConn.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// LocalControlAddr returns the bound control socket's local address.
func (m *Multiplexer) LocalControlAddr() *net.UDPAddr {
	return m.controlConn.LocalAddr().(*net.UDPAddr)
}

func (m *Multiplexer) receiveLoop(ctx context.Context, port Port, conn *net.UDPConn, h Handler) {
	defer m.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return // session is shutting down; this is expected
			}
			m.logger.Warn("receive error", "port", port, "error", err)
			select {
			case <-ctx.Done():
				return
			default:
				continue
			}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		h.Handle(port, datagram, from)
	}
}

// SendControl writes one complete datagram to addr on the control socket.
// The per-socket mutex guarantees one send never interleaves with
// another.
func (m *Multiplexer) SendControl(addr *net.UDPAddr, data []byte) error {
	m.controlMu.Lock()
	defer m.controlMu.Unlock()
	_, err := m.controlConn.WriteToUDP(data, addr)
	return err
}

// SendData writes one complete datagram to addr on the data socket.
func (m *Multiplexer) SendData(addr *net.UDPAddr, data []byte) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	_, err := m.dataConn.WriteToUDP(data, addr)
	return err
}
