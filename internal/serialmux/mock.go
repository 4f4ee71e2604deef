package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

// TestableSerialPort implements SerialPorter with configurable behaviour for testing.
// It provides control over reads, writes and errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite makes Write report one byte fewer than it was given
	ShortWrite bool

	// CloseError is returned by Close if set
	CloseError error

	// Closed indicates whether Close was called
	Closed bool

	// WriteCalls records the number of Write calls
	WriteCalls int

	// BlockReads causes Read to block until data is added or Close is called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, optionally simulating errors.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
		if t.Closed {
			return 0, errors.New("serial port closed")
		}
	}
	return t.ReadBuffer.Read(p)
}

// Write writes to the write buffer, optionally simulating errors.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.WriteError != nil {
		err := t.WriteError
		t.WriteError = nil
		return 0, err
	}
	n, err = t.WriteBuffer.Write(p)
	if t.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port as closed.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

// AddReadData adds data to be returned by subsequent Read calls.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns all data written to the port.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// EmulatedServoPort answers like a servo controller whose servos settle
// instantly. "Q" replies "." and "VER" replies a version string; pulse
// commands are accepted silently. It backs dev mode without hardware.
type EmulatedServoPort struct {
	mu      sync.Mutex
	pending bytes.Buffer
	cond    *sync.Cond
	closed  bool
	written []string
}

// NewEmulatedServoPort creates an emulated controller port.
func NewEmulatedServoPort() *EmulatedServoPort {
	p := &EmulatedServoPort{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// NewEmulatedSerialMux wraps an EmulatedServoPort in a SerialMux.
func NewEmulatedSerialMux() *SerialMux[*EmulatedServoPort] {
	return NewSerialMux(NewEmulatedServoPort())
}

// Write parses commands and queues replies.
func (p *EmulatedServoPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	for _, cmd := range strings.FieldsFunc(string(b), func(r rune) bool { return r == '\r' || r == '\n' }) {
		p.written = append(p.written, cmd)
		switch strings.ToUpper(strings.TrimSpace(cmd)) {
		case "Q":
			p.pending.WriteString(".\r")
		case "VER":
			p.pending.WriteString("SSC32-EMULATED\r\n")
		}
	}
	p.cond.Broadcast()
	return len(b), nil
}

// Read blocks until a reply is queued or the port closes.
func (p *EmulatedServoPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for !p.closed && p.pending.Len() == 0 {
		p.cond.Wait()
	}
	if p.closed {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

// Close unblocks readers.
func (p *EmulatedServoPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.cond.Broadcast()
	return nil
}

// Commands returns every command written so far.
func (p *EmulatedServoPort) Commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}
