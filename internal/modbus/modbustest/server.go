// Package modbustest provides an in-process Modbus TCP server for tests.
// It answers function 0x03 from a register map and can be told to reply
// with an exception or to drop the connection for a given start address.
package modbustest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
)

type Server struct {
	ln net.Listener

	mu         sync.Mutex
	registers  map[uint16]uint16
	exceptions map[uint16]byte
	drops      map[uint16]bool
	requests   map[uint16]int
	conns      map[net.Conn]struct{}

	wg sync.WaitGroup
}

// NewServer starts a server on a loopback port and stops it at test cleanup.
func NewServer(t testing.TB) *Server {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("modbustest: listen: %v", err)
	}

	s := &Server{
		ln:         ln,
		registers:  make(map[uint16]uint16),
		exceptions: make(map[uint16]byte),
		drops:      make(map[uint16]bool),
		requests:   make(map[uint16]int),
		conns:      make(map[net.Conn]struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)
	return s
}

// Host returns the listen host.
func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listen port.
func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// SetRegisters stores values starting at address start.
func (s *Server) SetRegisters(start uint16, values []uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, v := range values {
		s.registers[start+uint16(i)] = v
	}
}

// SetException makes reads starting at start answer with the exception code.
func (s *Server) SetException(start uint16, code byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[start] = code
}

// DropOn makes reads starting at start close the connection without reply.
func (s *Server) DropOn(start uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drops[start] = true
}

// Reset clears exception and drop behaviour for start.
func (s *Server) Reset(start uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exceptions, start)
	delete(s.drops, start)
}

// Requests returns how many reads starting at start were received.
func (s *Server) Requests(start uint16) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[start]
}

// Close stops accepting and closes all open connections.
func (s *Server) Close() {
	s.ln.Close()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	header := make([]byte, headerSize)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint16(header[4:6])
		if length < 2 {
			return
		}
		body := make([]byte, length-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		req, err := DecodeFrame(append(append([]byte{}, header...), body...))
		if err != nil {
			return
		}

		resp, err := s.handle(req)
		if err != nil {
			return
		}

		if _, err := conn.Write(resp.Encode()); err != nil {
			return
		}
	}
}

var errDrop = errors.New("drop connection")

func (s *Server) handle(req *Frame) (*Frame, error) {
	if req.FunctionCode != funcReadHoldingRegisters {
		return exceptionResponse(req, ExceptionIllegalFunction), nil
	}

	start, quantity, err := req.readRequest()
	if err != nil {
		return exceptionResponse(req, ExceptionIllegalDataAddress), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[start]++

	if s.drops[start] {
		return nil, errDrop
	}
	if code, ok := s.exceptions[start]; ok {
		return exceptionResponse(req, code), nil
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = s.registers[start+uint16(i)]
	}
	return registerResponse(req, values), nil
}
