package uds

import (
	"encoding/binary"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type actionParams struct {
	Action int `json:"action"`
}

// sockPath keeps socket paths short enough for macOS (104 bytes).
func sockPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "alarmd-uds-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, DefaultSocketName)
}

func startServer(t *testing.T, path string, register func(*Server)) *Client {
	t.Helper()
	s := NewServer(path)
	if register != nil {
		register(s)
	}
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	c := NewClient(path)
	c.SetTimeout(2 * time.Second)
	return c
}

func TestFrame_RoundTripOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	req, err := NewRequest("do_action", actionParams{Action: 100})
	require.NoError(t, err)

	go func() { _ = WriteFrame(a, req) }()

	var got Request
	require.NoError(t, ReadFrame(b, &got))
	assert.Equal(t, ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, "do_action", got.Command)

	var params actionParams
	require.NoError(t, got.DecodeParams(&params))
	assert.Equal(t, 100, params.Action)
}

func TestFrame_MultiKilobyteBody(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	body := strings.Repeat("上海交警", 20000)
	go func() { _ = WriteFrame(a, map[string]string{"body": body}) }()

	var got map[string]string
	require.NoError(t, ReadFrame(b, &got))
	assert.Equal(t, body, got["body"])
}

func TestReadFrame_RejectsOversizedFrame(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	go func() { _ = binary.Write(a, binary.BigEndian, uint32(maxFrameSize+1)) }()

	var v any
	err := ReadFrame(b, &v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frame too large")
}

func TestServer_DispatchesRegisteredCommand(t *testing.T) {
	var got actionParams
	c := startServer(t, sockPath(t), func(s *Server) {
		s.Handle("do_action", func(req *Request) *Response {
			if err := req.DecodeParams(&got); err != nil {
				return ErrorResponse(ErrCodeValidation, err.Error())
			}
			return SuccessResponse(map[string]string{"state": "pending"})
		})
	})

	resp, err := c.SendCommand("do_action", actionParams{Action: 100})
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, 100, got.Action)

	var data map[string]string
	require.NoError(t, resp.Decode(&data))
	assert.Equal(t, "pending", data["state"])
}

func TestServer_UnknownCommand(t *testing.T) {
	c := startServer(t, sockPath(t), nil)

	resp, err := c.SendCommand("snooze", nil)
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeUnknownCommand, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "snooze")
}

func TestServer_ProtocolVersionMismatch(t *testing.T) {
	called := false
	c := startServer(t, sockPath(t), func(s *Server) {
		s.Handle("ping", func(req *Request) *Response {
			called = true
			return SuccessResponse(nil)
		})
	})

	resp, err := c.Send(&Request{ProtocolVersion: ProtocolVersion + 1, Command: "ping"})
	require.NoError(t, err)
	require.False(t, resp.Success)
	assert.Equal(t, ErrCodeProtocolMismatch, resp.Error.Code)
	assert.False(t, called)
}

func TestServer_ConcurrentClients(t *testing.T) {
	var mu sync.Mutex
	clicks := 0
	path := sockPath(t)
	startServer(t, path, func(s *Server) {
		s.Handle("click", func(req *Request) *Response {
			mu.Lock()
			defer mu.Unlock()
			clicks++
			return SuccessResponse(map[string]int{"click_count": clicks})
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(path)
			c.SetTimeout(2 * time.Second)
			resp, err := c.SendCommand("click", nil)
			assert.NoError(t, err)
			assert.True(t, resp.Success)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, clicks)
}

func TestServer_RecoversFromHandlerPanic(t *testing.T) {
	c := startServer(t, sockPath(t), func(s *Server) {
		s.Handle("boom", func(req *Request) *Response { panic("boom") })
		s.Handle("ping", func(req *Request) *Response { return SuccessResponse(nil) })
	})

	_, err := c.SendCommand("boom", nil)
	assert.Error(t, err, "connection closes without a response")

	resp, err := c.SendCommand("ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestServer_IdleConnectionTimesOut(t *testing.T) {
	path := sockPath(t)
	s := NewServer(path)
	s.SetConnTimeout(200 * time.Millisecond)
	s.Handle("ping", func(req *Request) *Response { return SuccessResponse(nil) })
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.Error(t, err, "server closes the idle connection")

	c := NewClient(path)
	c.SetTimeout(time.Second)
	resp, err := c.SendCommand("ping", nil)
	require.NoError(t, err)
	assert.True(t, resp.Success)
}

func TestServer_SocketLifecycle(t *testing.T) {
	path := sockPath(t)
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0600))

	s := NewServer(path)
	require.NoError(t, s.Start(), "a stale socket file is replaced")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, s.Stop())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClient_DaemonNotRunning(t *testing.T) {
	c := NewClient(filepath.Join(t.TempDir(), DefaultSocketName))
	c.SetTimeout(time.Second)

	_, err := c.SendCommand("ping", nil)
	require.ErrorIs(t, err, ErrDaemonNotRunning)
	assert.Contains(t, err.Error(), "alarmd daemon")
	assert.ErrorIs(t, c.Ping(), ErrDaemonNotRunning)
}

func TestClient_CallDecodesOrReturnsErrorDetail(t *testing.T) {
	dir, err := os.MkdirTemp("/tmp", "alarmd-uds-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	startServer(t, filepath.Join(dir, DefaultSocketName), func(s *Server) {
		s.Handle("ping", func(req *Request) *Response { return SuccessResponse(nil) })
		s.Handle("click", func(req *Request) *Response {
			params := struct {
				N int64 `json:"n"`
			}{}
			_ = req.DecodeParams(&params)
			if params.N <= 0 {
				return ErrorResponse(ErrCodeValidation, "n must be positive")
			}
			return SuccessResponse(map[string]int64{"click_count": params.N})
		})
	})
	c := ForDataDir(dir)

	require.NoError(t, c.Ping())

	var rec map[string]int64
	require.NoError(t, c.Call("click", map[string]int64{"n": 3}, &rec))
	assert.Equal(t, int64(3), rec["click_count"])
	require.NoError(t, c.Call("click", map[string]int64{"n": 1}, nil))

	err = c.Call("click", map[string]int64{"n": -1}, &rec)
	var detail *ErrorDetail
	require.ErrorAs(t, err, &detail)
	assert.Equal(t, ErrCodeValidation, detail.Code)
}

func TestResponses(t *testing.T) {
	resp := ErrorResponse(ErrCodeValidation, "n must be positive")
	assert.False(t, resp.Success)
	assert.EqualError(t, resp.Decode(&struct{}{}), "VALIDATION_ERROR: n must be positive")

	resp = SuccessResponse(nil)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Data)
	assert.NoError(t, resp.Decode(&struct{}{}))

	resp = SuccessResponse(map[string]int{"click_count": 3})
	var data map[string]int
	require.NoError(t, resp.Decode(&data))
	assert.Equal(t, 3, data["click_count"])

	resp = SuccessResponse(func() {})
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeInternal, resp.Error.Code)

	var nilErr *ErrorDetail
	assert.Equal(t, "unknown daemon error", nilErr.Error())
}

func TestRequest_DecodeParamsKeepsDefaults(t *testing.T) {
	req, err := NewRequest("click", nil)
	require.NoError(t, err)

	params := struct {
		N int64 `json:"n"`
	}{N: 1}
	require.NoError(t, req.DecodeParams(&params))
	assert.Equal(t, int64(1), params.N)

	req.Params = json.RawMessage(`{"n":"x"}`)
	assert.Error(t, req.DecodeParams(&params))
}
