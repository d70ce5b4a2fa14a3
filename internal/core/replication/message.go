package replication

import (
	"bytes"

	"github.com/zeusync/replication/internal/core/codec"
	"github.com/zeusync/replication/internal/core/command"
	"github.com/zeusync/replication/internal/core/protocol"
	"github.com/zeusync/replication/pkg/generic"
)

var writers = generic.NewPool(
	func() *codec.Writer { return codec.NewWriter(1024) },
	func(w *codec.Writer) { w.Reset() },
)

// EncodeMessage builds a message of type t whose body is a snapshot batch.
func EncodeMessage(t protocol.MessageType, snaps []command.Snapshot, methods codec.MethodResolver) ([]byte, error) {
	w := writers.Get()
	defer writers.Put(w)

	w.Uint8(uint8(t))
	if err := codec.EncodeBatch(w, snaps, methods); err != nil {
		return nil, err
	}
	return bytes.Clone(w.Bytes()), nil
}

// DecodeMessage decodes the snapshot batch carried by msg.
func DecodeMessage(msg protocol.Message, methods codec.MethodResolver) ([]command.Snapshot, error) {
	return codec.DecodeBatch(msg.Body, methods)
}
