package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const defaultClientTimeout = 15 * time.Second

// Client sends single requests to a running bridge.
type Client struct {
	Network string
	Address string
	// Timeout bounds the whole exchange when ctx has no earlier deadline.
	Timeout time.Duration
}

// NewClient returns a Client for the given socket.
func NewClient(network, address string) *Client {
	return &Client{Network: network, Address: address, Timeout: defaultClientTimeout}
}

// Send performs one request. An empty value sends the bare keyword.
//
// Returns ErrNoReply when the bridge closes the connection without an
// answer, which is what it does for unknown keywords and overdue
// deferred replies.
func (c *Client) Send(ctx context.Context, keyword, value string) (Reply, error) {
	req := Request{Keyword: keyword, Value: value, HasValue: value != ""}
	if strings.ContainsAny(req.String(), "\r\n") {
		return Reply{}, fmt.Errorf("server: request %q spans lines", keyword)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.Network, c.Address)
	if err != nil {
		return Reply{}, fmt.Errorf("dial bridge socket %s: %w", c.Address, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Reply{}, err
		}
	}

	if _, err := io.WriteString(conn, req.String()+"\n"); err != nil {
		return Reply{}, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return Reply{}, fmt.Errorf("%w: %s", ErrNoReply, keyword)
		}
		if len(line) == 0 {
			return Reply{}, fmt.Errorf("read reply: %w", err)
		}
	}
	return DecodeReply(line)
}
