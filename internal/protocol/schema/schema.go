package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/protocol/tlv"
)

// Command codes.
const (
	CmdKeepalive        uint16 = 0x0003
	CmdInventory        uint16 = 0x0005
	CmdNotify           uint16 = 0x0012
	CmdRequestCompleted uint16 = 0x001D
	CmdFileData         uint16 = 0x0069
	CmdAbortTransfer           = protocol.CodeAbortTransfer
	CmdGetCaps                 = protocol.CodeGetCaps
	CmdCaps                    = protocol.CodeCaps
	CmdUploadFile       uint16 = 0x00DB
	CmdEcho             uint16 = 0x0100
)

// Field IDs.
const (
	FieldName        uint32 = 20
	FieldEventCode   uint32 = 24
	FieldMessage     uint32 = 26
	FieldRCC         uint32 = 28
	FieldTimestamp   uint32 = 94
	FieldFileName    uint32 = 125
	FieldFileSize    uint32 = 356
	FieldObject      uint32 = 1000
	FieldItemCount   uint32 = 1001
	FieldContentType uint32 = 1002

	// FieldItemBase starts the string list written with SetStrings.
	FieldItemBase uint32 = 0x10000
)

// Request completion codes carried in FieldRCC.
const (
	RCCSuccess         uint32 = 0
	RCCAccessDenied    uint32 = 2
	RCCInvalidRequest  uint32 = 3
	RCCTimeout         uint32 = 4
	RCCSystemFailure   uint32 = 10
	RCCInvalidArgument uint32 = 12
	RCCIOError         uint32 = 16
	RCCNotImplemented  uint32 = 28
)

var codeNames = map[uint16]string{
	CmdKeepalive:        "CMD_KEEPALIVE",
	CmdInventory:        "CMD_INVENTORY",
	CmdNotify:           "CMD_NOTIFY",
	CmdRequestCompleted: "CMD_REQUEST_COMPLETED",
	CmdFileData:         "CMD_FILE_DATA",
	CmdAbortTransfer:    "CMD_ABORT_FILE_TRANSFER",
	CmdGetCaps:          "CMD_GET_CAPS",
	CmdCaps:             "CMD_CAPS",
	CmdUploadFile:       "CMD_UPLOAD_FILE",
	CmdEcho:             "CMD_ECHO",
}

// CodeName returns the symbolic name of a command code.
func CodeName(code uint16) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return fmt.Sprintf("CMD_0x%04X", code)
}

// Body is the expected body kind of a command.
type Body int

const (
	BodyFields Body = iota
	BodyBinary
	BodyControl
)

type Requirement struct {
	ID   uint32
	Type tlv.Type
}

type ValidationError struct {
	Code    uint16
	FieldID uint32
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: code=%s: %s", CodeName(e.Code), e.Reason)
	}
	return fmt.Sprintf("schema: code=%s field=%d: %s", CodeName(e.Code), e.FieldID, e.Reason)
}

type rule struct {
	body Body
	reqs []Requirement
}

var rules = map[uint16]rule{
	CmdKeepalive:        {body: BodyFields},
	CmdInventory:        {body: BodyFields},
	CmdNotify:           {body: BodyFields, reqs: []Requirement{{FieldEventCode, tlv.TypeUint32}, {FieldMessage, tlv.TypeString}, {FieldTimestamp, tlv.TypeInt64}}},
	CmdRequestCompleted: {body: BodyFields, reqs: []Requirement{{FieldRCC, tlv.TypeUint32}}},
	CmdFileData:         {body: BodyBinary},
	CmdGetCaps:          {body: BodyControl},
	CmdCaps:             {body: BodyControl},
	CmdUploadFile:       {body: BodyFields, reqs: []Requirement{{FieldFileName, tlv.TypeString}}},
	CmdEcho:             {body: BodyFields, reqs: []Requirement{{FieldMessage, tlv.TypeString}}},
}

// Validate enforces the body kind, required fields and their types for a
// command. Unknown fields are ignored.
func Validate(msg *protocol.Message) error {
	r, ok := rules[msg.Code]
	if !ok {
		log.Debug().Uint16("code", msg.Code).Msg("schema.Validate unknown code")
		return ValidationError{Code: msg.Code, Reason: "unknown code"}
	}
	switch r.body {
	case BodyBinary:
		if !msg.IsBinary() {
			return ValidationError{Code: msg.Code, Reason: "expected binary body"}
		}
		return nil
	case BodyControl:
		if !msg.IsControl() {
			return ValidationError{Code: msg.Code, Reason: "expected control body"}
		}
		return nil
	}
	if msg.IsBinary() || msg.IsControl() {
		return ValidationError{Code: msg.Code, Reason: "expected field body"}
	}
	for _, req := range r.reqs {
		f, found := msg.Get(req.ID)
		if !found {
			log.Debug().
				Uint16("code", msg.Code).
				Uint32("field", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{Code: msg.Code, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Debug().
				Uint16("code", msg.Code).
				Uint32("field", req.ID).
				Str("got", f.Type.String()).
				Str("want", req.Type.String()).
				Msg("schema.Validate type mismatch")
			return ValidationError{Code: msg.Code, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Completed builds a CMD_REQUEST_COMPLETED reply carrying rcc.
func Completed(req *protocol.Message, rcc uint32) *protocol.Message {
	reply := req.Reply(CmdRequestCompleted)
	reply.SetUint32(FieldRCC, rcc)
	return reply
}

// RCC reads the completion code of a reply. A missing RCC is an error.
func RCC(reply *protocol.Message) (uint32, error) {
	return reply.GetUint32(FieldRCC)
}
