// Package transport carries primitive commands to the arm controller over
// a serial port. The port accepts commands asynchronously: acceptance and
// final-angle feedback arrive as separate lines, or not at all for long
// sequences, so Send never blocks on physical arrival.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// BaudRate matches the arm controller's UART configuration.
const BaudRate = 9600

// responseBufferSize bounds the rolling buffer of raw lines from the arm.
const responseBufferSize = 100

// Response is one raw line received from the arm, timestamped at arrival.
type Response struct {
	At   time.Time `json:"at"`
	Data string    `json:"data"`
}

// IsAck reports whether the line is a positive acknowledgement.
func (r Response) IsAck() bool { return strings.HasPrefix(r.Data, "ACK") }

// IsErr reports whether the line is a firmware error report.
func (r Response) IsErr() bool { return strings.HasPrefix(r.Data, "ERR") }

// ListPorts enumerates the serial ports available on the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// SerialTransport writes newline-terminated commands to the arm and keeps a
// rolling buffer of its response lines.
type SerialTransport struct {
	mu       sync.Mutex
	port     serial.Port
	portName string
	buf      []Response
}

// Open opens the named serial port at the arm's fixed mode.
func Open(portName string) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", portName, err)
	}
	log.Printf("[Serial] opened %s at %d baud", portName, BaudRate)
	return &SerialTransport{port: port, portName: portName}, nil
}

// newFromPort wires a transport onto an already open port; tests use it
// with a mock.
func newFromPort(port serial.Port, name string) *SerialTransport {
	return &SerialTransport{port: port, portName: name}
}

// Connected reports whether a port is currently open.
func (t *SerialTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// PortName returns the name of the open port.
func (t *SerialTransport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

// Send writes one command line to the arm. The write itself is the only
// acknowledgement awaited; firmware feedback lands in the response buffer.
func (t *SerialTransport) Send(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return fmt.Errorf("serial port not available")
	}
	if _, err := t.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("failed to write %q: %w", cmd, err)
	}
	return nil
}

// Monitor reads response lines from the arm into the rolling buffer until
// the context is cancelled or the port errors out.
func (t *SerialTransport) Monitor(ctx context.Context) error {
	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return fmt.Errorf("serial port not available")
	}

	scan := bufio.NewScanner(port)
	for scan.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		t.push(Response{At: time.Now(), Data: line})
		log.Printf("[Serial] arm says: %s", line)
	}
	return scan.Err()
}

func (t *SerialTransport) push(r Response) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, r)
	if len(t.buf) > responseBufferSize {
		t.buf = t.buf[len(t.buf)-responseBufferSize:]
	}
}

// Responses returns a snapshot of the rolling response buffer.
func (t *SerialTransport) Responses() []Response {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Response, len(t.buf))
	copy(out, t.buf)
	return out
}

// WaitForResponse returns the first line observed at or after since (with a
// small grace window), or an empty Response with ok=false if nothing
// arrives before the timeout.
func (t *SerialTransport) WaitForResponse(since time.Time, timeout time.Duration) (Response, bool) {
	const grace = 50 * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		for _, r := range t.buf {
			if !r.At.Before(since.Add(-grace)) {
				t.mu.Unlock()
				return r, true
			}
		}
		t.mu.Unlock()
		if time.Now().After(deadline) {
			return Response{}, false
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close closes the serial port.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Reconnector reopens the transport when the port drops, checking every
// interval. It restarts the monitor loop after each successful reopen.
type Reconnector struct {
	PortName string
	Interval time.Duration
	OnOpen   func(*SerialTransport)
}

// Run blocks until ctx is cancelled, maintaining an open transport.
func (r *Reconnector) Run(ctx context.Context, current *SerialTransport) {
	interval := r.Interval
	if interval == 0 {
		interval = 5 * time.Second
	}
	t := current
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
		if t != nil && t.Connected() {
			continue
		}
		nt, err := Open(r.PortName)
		if err != nil {
			log.Printf("[Serial] reconnect to %s failed: %v", r.PortName, err)
			continue
		}
		log.Printf("[Serial] reconnected to %s", r.PortName)
		t = nt
		if r.OnOpen != nil {
			r.OnOpen(nt)
		}
	}
}
