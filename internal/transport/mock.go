package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// MockTransport records sent commands instead of touching hardware.
type MockTransport struct {
	mu   sync.Mutex
	Sent []string
	Err  error
}

func (m *MockTransport) Send(ctx context.Context, cmd string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, cmd)
	return nil
}

// Commands returns a snapshot of everything sent so far.
func (m *MockTransport) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// mockSerialPort feeds canned bytes to reads and records writes.
type mockSerialPort struct {
	mu           sync.Mutex
	errorMessage string
	readBuf      []byte
	written      []byte
}

func (m *mockSerialPort) Read(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errorMessage != "" {
		return 0, fmt.Errorf("error %q", m.errorMessage)
	}
	byteCount := copy(p, m.readBuf)
	m.readBuf = m.readBuf[byteCount:]
	return byteCount, nil
}

func (m *mockSerialPort) Write(p []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errorMessage != "" {
		return 0, fmt.Errorf("error %q", m.errorMessage)
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *mockSerialPort) SetMode(mode *serial.Mode) error                      { return nil }
func (m *mockSerialPort) Drain() error                                         { return nil }
func (m *mockSerialPort) ResetInputBuffer() error                              { return nil }
func (m *mockSerialPort) ResetOutputBuffer() error                             { return nil }
func (m *mockSerialPort) SetDTR(dtr bool) error                                { return nil }
func (m *mockSerialPort) SetRTS(rts bool) error                                { return nil }
func (m *mockSerialPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return nil, nil }
func (m *mockSerialPort) SetReadTimeout(t time.Duration) error                 { return nil }
func (m *mockSerialPort) Close() error                                         { return nil }
func (m *mockSerialPort) Break(time.Duration) error                            { return nil }
