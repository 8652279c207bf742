package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// scriptedSource hands out one chunk per read, then times out or fails.
type scriptedSource struct {
	chunks [][]byte
	err    error
}

func (s *scriptedSource) read(p []byte, _ time.Time) (int, error) {
	if len(s.chunks) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, errTimeout
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if len(s.chunks[0]) == 0 {
		s.chunks = s.chunks[1:]
	}
	return n, nil
}

func TestFramer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{"single line", []string{"{\"freq\":1}\n"}, []string{`{"freq":1}`}},
		{"crlf", []string{"a\r\nb\r\n"}, []string{"a", "b"}},
		{"split across reads", []string{"{\"fr", "eq\":", "1}\r", "\n"}, []string{`{"freq":1}`}},
		{"blank lines skipped", []string{"\r\n\n", "x\n"}, []string{"x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &scriptedSource{}
			for _, c := range tt.chunks {
				src.chunks = append(src.chunks, []byte(c))
			}

			var f framer
			var got []string
			for {
				line, err := f.readLine(src, time.Second, "test")
				if err != nil {
					assert.ErrorIs(t, err, errors.ErrReadTimeout)
					break
				}
				got = append(got, string(line))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFramerKeepsPartialLineAcrossTimeout(t *testing.T) {
	var f framer
	src := &scriptedSource{chunks: [][]byte{[]byte(`{"freq"`)}}

	_, err := f.readLine(src, time.Millisecond, "test")
	require.ErrorIs(t, err, errors.ErrReadTimeout)
	assert.True(t, errors.IsTransient(err))

	src.chunks = [][]byte{[]byte(":2}\n")}
	line, err := f.readLine(src, time.Millisecond, "test")
	require.NoError(t, err)
	assert.Equal(t, `{"freq":2}`, string(line))
}

func TestFramerLineTooLong(t *testing.T) {
	var f framer
	long := bytes.Repeat([]byte("x"), MaxLineLength+600)
	src := &scriptedSource{chunks: [][]byte{long, []byte("\nok\n")}}

	_, err := f.readLine(src, time.Second, "test")
	require.ErrorIs(t, err, errors.ErrLineTooLong)
	assert.True(t, errors.IsInvalid(err))

	line, err := f.readLine(src, time.Second, "test")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(line))
}

func TestFramerDisconnect(t *testing.T) {
	var f framer
	src := &scriptedSource{err: io.EOF}

	_, err := f.readLine(src, time.Second, "test")
	require.ErrorIs(t, err, errors.ErrDisconnected)
	assert.True(t, errors.IsTransient(err))
}

// lastSegmentSource returns its data together with io.EOF in one read.
type lastSegmentSource struct {
	data []byte
}

func (s *lastSegmentSource) read(p []byte, _ time.Time) (int, error) {
	n := copy(p, s.data)
	s.data = s.data[n:]
	return n, io.EOF
}

func TestFramerDeliversLinesReadWithDisconnect(t *testing.T) {
	var f framer
	src := &lastSegmentSource{data: []byte("{\"freq\":1}\n{\"freq\":2}\n{\"fr")}

	for _, want := range []string{`{"freq":1}`, `{"freq":2}`} {
		line, err := f.readLine(src, time.Second, "test")
		require.NoError(t, err)
		assert.Equal(t, want, string(line))
	}

	_, err := f.readLine(src, time.Second, "test")
	require.ErrorIs(t, err, errors.ErrDisconnected)

	f.reset()
	assert.Empty(t, f.pending)
	assert.NoError(t, f.failed)
}

func TestNew(t *testing.T) {
	tr, err := New(message.EndpointSpec{Kind: message.EndpointTCP, Target: "127.0.0.1", Param: 23}, nil)
	require.NoError(t, err)
	assert.IsType(t, &TCP{}, tr)
	assert.Equal(t, "tcp:127.0.0.1:23", tr.String())

	tr, err = New(message.EndpointSpec{Kind: message.EndpointSerial, Target: "/dev/ttyUSB0", Param: 9600}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Serial{}, tr)

	_, err = New(message.EndpointSpec{Kind: "udp", Target: "x", Param: 1}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func listen(t *testing.T) (net.Listener, message.EndpointSpec) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return ln, message.EndpointSpec{Kind: message.EndpointTCP, Target: "127.0.0.1", Param: addr.Port}
}

func TestTCPReadLines(t *testing.T) {
	ln, spec := listen(t)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("{\"freq\":1}\r\n{\"fre"))
		time.Sleep(20 * time.Millisecond)
		_, _ = conn.Write([]byte("q\":2}\r\n"))
		time.Sleep(20 * time.Millisecond)
		_ = conn.Close()
	}()

	tr := newTCP(spec, slog.Default())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	line, err := tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"freq":1}`, string(line))

	line, err = tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"freq":2}`, string(line))

	_, err = tr.ReadLine(time.Second)
	assert.ErrorIs(t, err, errors.ErrDisconnected)

	wg.Wait()
}

func TestTCPReadTimeout(t *testing.T) {
	ln, spec := listen(t)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(200 * time.Millisecond)
		}
	}()

	tr := newTCP(spec, slog.Default())
	require.NoError(t, tr.Connect(context.Background()))
	defer tr.Close()

	start := time.Now()
	_, err := tr.ReadLine(30 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrReadTimeout)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestTCPConnectRefused(t *testing.T) {
	ln, spec := listen(t)
	require.NoError(t, ln.Close())

	tr := newTCP(spec, slog.Default())
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))

	_, err = tr.ReadLine(time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrDisconnected)
}

// fakePort implements the parts of serial.Port the transport uses.
type fakePort struct {
	serial.Port
	mu      sync.Mutex
	data    *strings.Reader
	timeout time.Duration
	closed  bool
	flushed bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	if p.data.Len() == 0 {
		return 0, nil
	}
	return p.data.Read(b)
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.timeout = d
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.flushed = true
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func TestSerialReadLines(t *testing.T) {
	port := &fakePort{data: strings.NewReader("{\"freq\":3}\r\n")}
	var gotMode *serial.Mode

	s := newSerial(message.EndpointSpec{Kind: message.EndpointSerial, Target: "/dev/ttyUSB0", Param: 115200}, slog.Default())
	s.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		assert.Equal(t, "/dev/ttyUSB0", name)
		gotMode = mode
		return port, nil
	}

	require.NoError(t, s.Connect(context.Background()))
	require.NotNil(t, gotMode)
	assert.Equal(t, 115200, gotMode.BaudRate)
	assert.True(t, port.flushed)

	line, err := s.ReadLine(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, `{"freq":3}`, string(line))

	_, err = s.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrReadTimeout)
	assert.Greater(t, port.timeout, time.Duration(0))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, errors.ErrDisconnected)
}

func TestSerialOpenFailure(t *testing.T) {
	s := newSerial(message.EndpointSpec{Kind: message.EndpointSerial, Target: "/dev/missing", Param: 9600}, slog.Default())
	s.open = func(string, *serial.Mode) (serial.Port, error) {
		return nil, &serial.PortError{}
	}

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
