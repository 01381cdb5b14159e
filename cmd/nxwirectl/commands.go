package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/nxwire/internal/daemon"
	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/protocol/codec"
	"github.com/danmuck/nxwire/internal/protocol/schema"
	"github.com/danmuck/nxwire/internal/protocol/session"
)

var ErrUsage = errors.New("usage: nxwirectl [flags] ping|caps|inventory|echo <text>|notify <code> <text>|upload <file> [name]")

// RCCError is a request the daemon completed with a non-zero code.
type RCCError struct {
	Code uint16
	RCC  uint32
}

func (e RCCError) Error() string {
	return fmt.Sprintf("%s failed: rcc=%d", schema.CodeName(e.Code), e.RCC)
}

type client struct {
	conn   *session.Conn
	out    io.Writer
	dump   bool
	codecs *codec.Registry
}

func newClient(conn *session.Conn, out io.Writer, dump bool) (*client, error) {
	codecs, err := codec.NewRegistry()
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, out: out, dump: dump, codecs: codecs}, nil
}

func (c *client) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}
	switch args[0] {
	case "ping":
		return c.ping(ctx)
	case "caps":
		return c.caps(ctx)
	case "inventory":
		return c.inventory(ctx)
	case "echo":
		if len(args) < 2 {
			return ErrUsage
		}
		return c.echo(ctx, strings.Join(args[1:], " "))
	case "notify":
		if len(args) < 3 {
			return ErrUsage
		}
		code, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("notify: event code: %w", err)
		}
		return c.notify(uint32(code), strings.Join(args[2:], " "))
	case "upload":
		if len(args) < 2 {
			return ErrUsage
		}
		name := filepath.Base(args[1])
		if len(args) > 2 {
			name = args[2]
		}
		return c.upload(ctx, args[1], name)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
	}
}

// request sends msg, dumps the reply when asked and checks its RCC.
func (c *client) request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	reply, err := c.conn.Request(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := c.show(reply); err != nil {
		return nil, err
	}
	return reply, checkRCC(msg.Code, reply)
}

func checkRCC(code uint16, reply *protocol.Message) error {
	rcc, err := schema.RCC(reply)
	if err != nil {
		return fmt.Errorf("%s: reply without completion code: %w", schema.CodeName(code), err)
	}
	if rcc != schema.RCCSuccess {
		return RCCError{Code: code, RCC: rcc}
	}
	return nil
}

func (c *client) show(msg *protocol.Message) error {
	if !c.dump {
		return nil
	}
	doc, err := protocol.MarshalXMLDocument(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s\n", doc)
	return err
}

func (c *client) ping(ctx context.Context) error {
	start := time.Now()
	if _, err := c.request(ctx, protocol.New(schema.CmdKeepalive, 0)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "pong from %s in %s\n", c.conn.Name(), time.Since(start).Round(time.Microsecond))
	return nil
}

func (c *client) caps(ctx context.Context) error {
	v, err := c.conn.PeerVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "peer protocol version %d\n", v)
	return nil
}

func (c *client) echo(ctx context.Context, text string) error {
	msg := protocol.New(schema.CmdEcho, 0)
	msg.SetString(schema.FieldMessage, text)
	reply, err := c.request(ctx, msg)
	if err != nil {
		return err
	}
	got, err := reply.GetString(schema.FieldMessage)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, got)
	return nil
}

func (c *client) inventory(ctx context.Context) error {
	reply, err := c.request(ctx, protocol.New(schema.CmdInventory, 0))
	if err != nil {
		return err
	}
	var inv daemon.Inventory
	if err := c.codecs.Detach(reply, schema.FieldObject, schema.FieldContentType, &inv); err != nil {
		return err
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(inv)
}

func (c *client) notify(code uint32, text string) error {
	msg := protocol.New(schema.CmdNotify, 0)
	msg.SetUint32(schema.FieldEventCode, code)
	msg.SetString(schema.FieldMessage, text)
	msg.SetTime(schema.FieldTimestamp, time.Now())
	if err := c.conn.Send(msg); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "notification %d sent\n", code)
	return nil
}

func (c *client) upload(ctx context.Context, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	begin := protocol.New(schema.CmdUploadFile, 0)
	begin.SetString(schema.FieldFileName, name)
	begin.SetUint64(schema.FieldFileSize, uint64(info.Size()))
	if _, err := c.request(ctx, begin); err != nil {
		return err
	}

	start := time.Now()
	reply, err := c.conn.SendStream(ctx, schema.CmdFileData, begin.ID, f, info.Size())
	if err != nil {
		return err
	}
	if err := c.show(reply); err != nil {
		return err
	}
	if err := checkRCC(schema.CmdFileData, reply); err != nil {
		return err
	}
	stored, _ := reply.GetUint64(schema.FieldFileSize)
	fmt.Fprintf(c.out, "uploaded %s as %q: %d bytes in %s\n", path, name, stored, time.Since(start).Round(time.Millisecond))
	return nil
}
