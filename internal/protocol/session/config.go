package session

import (
	"time"

	"github.com/danmuck/nxwire/internal/protocol"
	"github.com/danmuck/nxwire/internal/protocol/frame"
	"github.com/danmuck/nxwire/internal/protocol/transfer"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines per-connection limits, timeouts and collaborators.
type Config struct {
	Name string

	ConnectTimeout      time.Duration
	RequestTimeout      time.Duration
	CapsTimeout         time.Duration
	TransferIdleTimeout time.Duration
	JanitorInterval     time.Duration
	AbandonedTTL        time.Duration

	MaxFrameSize              uint32
	MaxTransferSize           uint64
	MaxConsecutiveFrameErrors int
	ReadBufferSize            int
	ChunkSize                 int

	// Compress requests compression on outbound field messages.
	Compress bool

	SecurityMode SecurityMode
	Sealer       frame.Sealer
	Observer     Observer
	Backoff      BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout:            5 * time.Second,
		RequestTimeout:            30 * time.Second,
		CapsTimeout:               3 * time.Second,
		TransferIdleTimeout:       60 * time.Second,
		JanitorInterval:           time.Second,
		AbandonedTTL:              2 * time.Minute,
		MaxFrameSize:              protocol.DefaultMaxFrameSize,
		MaxTransferSize:           transfer.DefaultConfig().MaxTransferSize,
		MaxConsecutiveFrameErrors: 8,
		ReadBufferSize:            32 * 1024,
		ChunkSize:                 transfer.DefaultChunkSize,
		SecurityMode:              SecurityModeDevelopment,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.CapsTimeout <= 0 {
		c.CapsTimeout = d.CapsTimeout
	}
	if c.TransferIdleTimeout <= 0 {
		c.TransferIdleTimeout = d.TransferIdleTimeout
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = d.JanitorInterval
	}
	if c.AbandonedTTL <= 0 {
		c.AbandonedTTL = d.AbandonedTTL
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.MaxTransferSize == 0 {
		c.MaxTransferSize = d.MaxTransferSize
	}
	if c.MaxConsecutiveFrameErrors <= 0 {
		c.MaxConsecutiveFrameErrors = d.MaxConsecutiveFrameErrors
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.SecurityMode == "" {
		c.SecurityMode = d.SecurityMode
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}
