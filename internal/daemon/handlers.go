package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/protocol/codec"
	"github.com/danmuck/nxwire/internal/protocol/schema"
	"github.com/danmuck/nxwire/internal/protocol/session"
	"github.com/danmuck/nxwire/internal/protocol/transfer"
)

var ErrBadFileName = errors.New("daemon: bad upload file name")

// Inventory is the object returned for CMD_INVENTORY.
type Inventory struct {
	Node     string          `json:"node"`
	Uptime   string          `json:"uptime"`
	Sessions []session.Stats `json:"sessions"`
}

type upload struct {
	name string
	size uint64
}

// peer holds the per-connection command state.
type peer struct {
	svc  *Service
	conn *session.Conn

	mu      sync.Mutex
	uploads map[uint32]upload
}

func newPeer(svc *Service, conn *session.Conn) *peer {
	return &peer{svc: svc, conn: conn, uploads: make(map[uint32]upload)}
}

func (p *peer) handle(msg *protocol.Message) {
	if err := schema.Validate(msg); err != nil {
		var ve schema.ValidationError
		rcc := schema.RCCInvalidArgument
		if errors.As(err, &ve) && ve.Reason == "unknown code" {
			rcc = schema.RCCNotImplemented
		}
		log.Debug().Str("conn", p.conn.Name()).Err(err).Msg("daemon.peer.handle rejected")
		if msg.Code != schema.CmdNotify {
			p.complete(msg, rcc)
		}
		return
	}

	switch msg.Code {
	case schema.CmdKeepalive:
		p.complete(msg, schema.RCCSuccess)
	case schema.CmdEcho:
		p.echo(msg)
	case schema.CmdInventory:
		p.inventory(msg)
	case schema.CmdNotify:
		p.notify(msg)
	case schema.CmdUploadFile:
		p.beginUpload(msg)
	case schema.CmdFileData:
		p.finishUpload(msg)
	default:
		p.complete(msg, schema.RCCNotImplemented)
	}
}

func (p *peer) complete(req *protocol.Message, rcc uint32) {
	p.send(schema.Completed(req, rcc))
}

func (p *peer) send(reply *protocol.Message) {
	if err := p.conn.Send(reply); err != nil {
		log.Warn().
			Str("conn", p.conn.Name()).
			Uint32("id", reply.ID).
			Str("code", schema.CodeName(reply.Code)).
			Err(err).
			Msg("daemon.peer.send failed")
	}
}

func (p *peer) echo(msg *protocol.Message) {
	text, _ := msg.GetString(schema.FieldMessage)
	reply := schema.Completed(msg, schema.RCCSuccess)
	reply.SetString(schema.FieldMessage, text)
	p.send(reply)
}

func (p *peer) inventory(msg *protocol.Message) {
	stats := p.svc.sessions.Stats()
	names := make([]string, 0, len(stats))
	for _, st := range stats {
		names = append(names, st.Name)
	}
	inv := Inventory{
		Node:     p.svc.cfg.Name,
		Uptime:   time.Since(p.svc.started).Round(time.Second).String(),
		Sessions: stats,
	}

	reply := schema.Completed(msg, schema.RCCSuccess)
	reply.SetString(schema.FieldName, p.svc.cfg.Name)
	reply.SetStrings(schema.FieldItemCount, schema.FieldItemBase, names)
	if err := codec.Attach(reply, schema.FieldObject, schema.FieldContentType, p.svc.codecs.Get("application/cbor"), inv); err != nil {
		log.Error().Str("conn", p.conn.Name()).Err(err).Msg("daemon.peer.inventory encode failed")
		p.complete(msg, schema.RCCSystemFailure)
		return
	}
	p.send(reply)
}

func (p *peer) notify(msg *protocol.Message) {
	code, _ := msg.GetUint32(schema.FieldEventCode)
	text, _ := msg.GetString(schema.FieldMessage)
	at, _ := msg.GetTime(schema.FieldTimestamp)
	p.svc.recordNotice(Notice{
		Session:   p.conn.Name(),
		EventCode: code,
		Message:   text,
		Timestamp: at,
	})
	log.Info().
		Str("conn", p.conn.Name()).
		Uint32("event_code", code).
		Str("message", text).
		Msg("daemon.peer.notify")
}

func (p *peer) beginUpload(msg *protocol.Message) {
	raw, _ := msg.GetString(schema.FieldFileName)
	name, err := cleanFileName(raw)
	if err != nil {
		log.Warn().Str("conn", p.conn.Name()).Str("file", raw).Msg("daemon.peer.upload rejected name")
		p.complete(msg, schema.RCCInvalidArgument)
		return
	}
	size, err := msg.GetUint64(schema.FieldFileSize)
	if err != nil && !errors.Is(err, protocol.ErrFieldNotFound) {
		p.complete(msg, schema.RCCInvalidArgument)
		return
	}
	if size > p.svc.base.MaxTransferSize {
		p.complete(msg, schema.RCCInvalidArgument)
		return
	}

	p.mu.Lock()
	p.uploads[msg.ID] = upload{name: name, size: size}
	p.mu.Unlock()
	log.Debug().Str("conn", p.conn.Name()).Uint32("id", msg.ID).Str("file", name).Msg("daemon.peer.upload accepted")
	p.complete(msg, schema.RCCSuccess)
}

func (p *peer) finishUpload(msg *protocol.Message) {
	p.mu.Lock()
	up, ok := p.uploads[msg.ID]
	delete(p.uploads, msg.ID)
	p.mu.Unlock()
	if !ok {
		p.complete(msg, schema.RCCInvalidRequest)
		return
	}

	data := msg.Raw()
	if up.size > 0 && uint64(len(data)) != up.size {
		log.Warn().
			Str("conn", p.conn.Name()).
			Str("file", up.name).
			Uint64("announced", up.size).
			Int("received", len(data)).
			Msg("daemon.peer.upload size mismatch")
		p.complete(msg, schema.RCCInvalidArgument)
		return
	}
	if err := os.MkdirAll(p.svc.cfg.UploadDir, 0o755); err != nil {
		p.uploadFailed(msg, up, err)
		return
	}
	path := filepath.Join(p.svc.cfg.UploadDir, up.name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		p.uploadFailed(msg, up, err)
		return
	}
	log.Info().Str("conn", p.conn.Name()).Str("file", path).Int("bytes", len(data)).Msg("daemon.peer.upload stored")

	reply := schema.Completed(msg, schema.RCCSuccess)
	reply.SetUint64(schema.FieldFileSize, uint64(len(data)))
	p.send(reply)
}

func (p *peer) uploadFailed(msg *protocol.Message, up upload, err error) {
	log.Error().Str("conn", p.conn.Name()).Str("file", up.name).Err(err).Msg("daemon.peer.upload write failed")
	p.complete(msg, schema.RCCIOError)
}

// transferFailed drops the upload slot of a transfer that was aborted,
// timed out or overlapped. A failure detected here is answered on the
// upload's correlation id; an abort from the sender is not.
func (p *peer) transferFailed(out transfer.Outcome) {
	p.mu.Lock()
	up, ok := p.uploads[out.ID]
	delete(p.uploads, out.ID)
	p.mu.Unlock()
	event := log.Warn().Str("conn", p.conn.Name()).Uint32("id", out.ID).Err(out.Err)
	if ok {
		event = event.Str("file", up.name)
	}
	event.Msg("daemon.peer.transfer failed")

	if !ok || errors.Is(out.Err, transfer.ErrTransferAborted) {
		return
	}
	p.send(schema.Completed(protocol.New(out.Code, out.ID), transferRCC(out.Err)))
}

func transferRCC(err error) uint32 {
	if errors.Is(err, transfer.ErrTransferTimedOut) {
		return schema.RCCTimeout
	}
	return schema.RCCInvalidArgument
}

func cleanFileName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", ErrBadFileName
	}
	return name, nil
}
