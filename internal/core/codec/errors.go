package codec

import "errors"

// Wire corruption. Any of these fails the whole message; nothing decoded from
// it may be applied.
var (
	ErrShortBuffer   = errors.New("codec: unexpected end of data")
	ErrUnknownBlock  = errors.New("codec: unknown block tag")
	ErrInvalidCount  = errors.New("codec: invalid block count")
	ErrUnknownMethod = errors.New("codec: unknown rpc method")
	ErrInvalidValue  = errors.New("codec: invalid value")
)

// Encoder misuse.
var (
	ErrTooManyCommands = errors.New("codec: too many commands in one snapshot")
	ErrTooManyBatch    = errors.New("codec: too many snapshots in one batch")
	ErrArgCount        = errors.New("codec: rpc argument count mismatch")
	ErrArgType         = errors.New("codec: rpc argument type mismatch")
	ErrInvalidKind     = errors.New("codec: invalid command kind")
)
