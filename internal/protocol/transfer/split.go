package transfer

import (
	"bufio"
	"errors"
	"io"

	"github.com/danmuck/nxwire/internal/protocol"
)

const DefaultChunkSize = 64 * 1024

// Parts cuts a stream into transfer parts sharing one code and correlation
// id. Each part carries its payload in FieldTransferData and the offset of
// its first byte in FieldTransferOffset.
type Parts struct {
	code  uint16
	id    uint32
	r     *bufio.Reader
	chunk int
	size  int64

	offset uint64
	count  int
	done   bool
}

// Split returns a part iterator over r. chunkSize <= 0 selects
// DefaultChunkSize.
func Split(code uint16, id uint32, r io.Reader, chunkSize int) *Parts {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Parts{code: code, id: id, r: bufio.NewReaderSize(r, chunkSize), chunk: chunkSize, size: -1}
}

// WithSize announces the total size on the first part.
func (p *Parts) WithSize(n int64) *Parts {
	p.size = n
	return p
}

// Next returns the next part, or io.EOF once the end-of-transfer part has
// been produced. Read errors from the source are returned unchanged.
func (p *Parts) Next() (*protocol.Message, error) {
	if p.done {
		return nil, io.EOF
	}
	buf := make([]byte, p.chunk)
	n, err := io.ReadFull(p.r, buf)
	last := false
	switch {
	case err == nil:
		if _, perr := p.r.Peek(1); perr != nil {
			if !errors.Is(perr, io.EOF) {
				return nil, perr
			}
			last = true
		}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		last = true
	default:
		return nil, err
	}

	msg := protocol.New(p.code, p.id)
	msg.Flags = protocol.FlagChunked
	if p.count == 0 {
		msg.Flags |= protocol.FlagStartOfTransfer
		if p.size >= 0 {
			msg.SetUint64(protocol.FieldTransferSize, uint64(p.size))
		}
	}
	if last {
		msg.Flags |= protocol.FlagEndOfTransfer
		p.done = true
	}
	msg.SetUint64(protocol.FieldTransferOffset, p.offset)
	msg.SetBinary(protocol.FieldTransferData, buf[:n])
	p.offset += uint64(n)
	p.count++
	return msg, nil
}

// Offset returns the number of payload bytes emitted so far.
func (p *Parts) Offset() uint64 { return p.offset }

// Count returns the number of parts emitted so far.
func (p *Parts) Count() int { return p.count }
