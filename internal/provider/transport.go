package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/guhur/plus-proche/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

type connection struct {
	ws   *websocket.Conn
	send chan []byte
	ctx  context.Context
}

// enqueue blocks until the writer accepts b or the connection ends.
func (c *connection) enqueue(b []byte) bool {
	select {
	case c.send <- b:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// run keeps a connection to the relay open until ctx is done.
func (p *Provider) run(ctx context.Context) {
	for {
		err := p.connect(ctx)
		if ctx.Err() != nil {
			return
		}

		slog.WarnContext(ctx, "provider: relay connection lost", "room", p.room, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.c.ReconnectDelay):
		}
	}
}

func (p *Provider) connect(ctx context.Context) error {
	ws, _, err := p.c.Dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.url, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	c := &connection{
		ws:   ws,
		send: make(chan []byte, sendBufferSize),
		ctx:  gctx,
	}

	p.attach(c)
	defer p.detach(c)

	slog.InfoContext(ctx, "provider: connected", "room", p.room)

	step1, err := protocol.Encode(protocol.SyncStep1(p.doc.StateVector()))
	if err != nil {
		ws.Close()
		return err
	}
	c.send <- step1

	g.Go(func() error {
		return p.writePump(c)
	})
	g.Go(func() error {
		return p.readPump(c)
	})

	return g.Wait()
}

func (p *Provider) readPump(c *connection) error {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		m, err := protocol.Decode(b)
		if err != nil {
			slog.Warn("provider: malformed message, ignoring", "room", p.room, "error", err)
			continue
		}

		p.handle(c, m)
	}
}

func (p *Provider) writePump(c *connection) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case b := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (p *Provider) handle(c *connection, m protocol.Message) {
	switch m.Type {
	case protocol.TypeSyncStep1:
		b, err := protocol.Encode(protocol.SyncStep2(p.doc.Diff(m.StateVector)))
		if err != nil {
			slog.Error("provider: encode sync step 2 failed", "room", p.room, "error", err)
			return
		}
		c.enqueue(b)

	case protocol.TypeSyncStep2:
		if err := p.doc.Apply(*m.Update, originRelay); err != nil {
			slog.Warn("provider: apply sync step 2 failed", "room", p.room, "error", err)
			return
		}
		p.markSynced(string(originRelay))

	case protocol.TypeUpdate:
		if err := p.doc.Apply(*m.Update, originRelay); err != nil {
			slog.Warn("provider: apply update failed", "room", p.room, "error", err)
		}

	case protocol.TypeAwareness:
		p.setPeers(m.Peers)
	}
}
