package uds

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"time"
)

// DefaultClientTimeout bounds dialing plus one request/response exchange.
const DefaultClientTimeout = 10 * time.Second

// ErrDaemonNotRunning wraps dial failures.
var ErrDaemonNotRunning = errors.New("alarmd daemon is not running (start it with: alarmd daemon)")

// Client talks to one daemon socket. Each call uses a fresh connection.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: DefaultClientTimeout}
}

// ForDataDir returns a client for the daemon serving dataDir.
func ForDataDir(dataDir string) *Client {
	return NewClient(filepath.Join(dataDir, DefaultSocketName))
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDaemonNotRunning, c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return &resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}

// Call sends command and decodes the response data into out, which may be
// nil. A failed response is returned as its *ErrorDetail.
func (c *Client) Call(command string, params, out any) error {
	resp, err := c.SendCommand(command, params)
	if err != nil {
		return err
	}
	if !resp.Success {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Ping reports whether the daemon answers.
func (c *Client) Ping() error {
	return c.Call("ping", nil, nil)
}
