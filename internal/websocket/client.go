// Package websocket wraps a single gobwas/ws client connection behind text
// send/receive callbacks. Reconnect policy is deliberately absent; the caller
// owns connection lifecycle.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	// OnText receives each inbound text frame. An error aborts processing of
	// that frame only.
	OnText func(data []byte) error
	// OnClose fires once when the connection ends, with a nil error on a
	// clean close.
	OnClose func(err error)
	Logger  *slog.Logger
}

type Client struct {
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	logger   *slog.Logger
	onClose  func(err error)
}

func (c *Client) terminate(err error) {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

// WriteText queues a text frame for sending. Sends are fire-and-forget.
func (c *Client) WriteText(data []byte) {
	select {
	case c.out <- wsutil.Message{OpCode: ws.OpText, Payload: data}:
	case <-c.done:
	}
}

// Close sends a close frame and waits for the connection to wind down.
func (c *Client) Close(ctx context.Context) error {
	select {
	case c.out <- wsutil.Message{
		OpCode:  ws.OpClose,
		Payload: ws.NewCloseFrameBody(ws.StatusNormalClosure, "closing"),
	}:
	case <-c.done:
		return nil
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

// Connect dials the websocket and starts the read/write pumps.
func Connect(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("url", config.URL))

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, _, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		defer ws.PutReader(buf)
	}

	logger.Debug("websocket connected")

	client := &Client{
		out:     make(chan wsutil.Message, 1000),
		done:    make(chan struct{}),
		logger:  logger,
		onClose: config.OnClose,
	}

	onText := config.OnText
	if onText == nil {
		onText = func([]byte) error { return nil }
	}

	input := make(chan wsutil.Message, 1000)

	// socket -> input channel
	go func() {
		for {
			messages, err := wsutil.ReadServerMessage(conn, nil)
			if err != nil {
				if errors.Is(err, io.EOF) {
					client.terminate(nil)
				} else {
					logger.Error("ws read failed", slog.Any("err", err))
					client.terminate(err)
				}
				return
			}
			for _, msg := range messages {
				select {
				case input <- msg:
				case <-client.done:
					return
				}
			}
		}
	}()

	// output channel -> socket
	go func() {
		for {
			select {
			case <-client.done:
				return
			case msg := <-client.out:
				if err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload); err != nil {
					logger.Error("ws write failed", slog.Any("err", err))
					client.terminate(err)
					return
				}
			}
		}
	}()

	// input channel processing
	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				client.terminate(ctx.Err())
				return
			case <-client.done:
				return
			case msg := <-input:
				if msg.OpCode.IsControl() {
					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Error("ws control handling failed", slog.Any("err", err))
					}
					if msg.OpCode == ws.OpClose {
						logger.Debug("ws close received", slog.String("reason", string(msg.Payload)))
						client.terminate(nil)
					}
					continue
				}

				if msg.OpCode == ws.OpText {
					if err := onText(msg.Payload); err != nil {
						logger.Error("text message handler failed", slog.Any("err", err))
					}
				}
			}
		}
	}()

	return client, nil
}
