// Package wire holds the binary encodings used for values that cross
// process boundaries: vertex messages, vertex data replicas and exchange
// batches.
//
// Every scalar is a protobuf base-128 varint (signed values are zigzag
// encoded first). A batch is a varint element count followed by the
// elements back to back. There are no field tags; both ends must agree on
// the codec.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrTrailingBytes = errors.New("wire: trailing bytes after batch")

// Codec appends the encoding of a T to b, and consumes one T from the
// front of b, reporting how many bytes it used.
type Codec[T any] interface {
	Append(b []byte, v T) []byte
	Consume(b []byte) (T, int, error)
}

// Uint64 encodes a uint64 as a single varint.
type Uint64 struct{}

func (Uint64) Append(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

func (Uint64) Consume(b []byte) (uint64, int, error) {
	return ConsumeVarint(b)
}

// Int64 encodes an int64 as a zigzag varint.
type Int64 struct{}

func (Int64) Append(b []byte, v int64) []byte {
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func (Int64) Consume(b []byte) (int64, int, error) {
	v, n, err := ConsumeVarint(b)
	if err != nil {
		return 0, 0, err
	}
	return protowire.DecodeZigZag(v), n, nil
}

// ConsumeVarint wraps protowire.ConsumeVarint with an error return.
func ConsumeVarint(b []byte) (uint64, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("wire: %w", protowire.ParseError(n))
	}
	return v, n, nil
}

// EncodeBatch encodes vs as a count-prefixed batch.
func EncodeBatch[T any](c Codec[T], vs []T) []byte {
	b := make([]byte, 0, 1+len(vs)*4)
	b = protowire.AppendVarint(b, uint64(len(vs)))
	for _, v := range vs {
		b = c.Append(b, v)
	}
	return b
}

// DecodeBatch is the inverse of EncodeBatch. The whole of b must be used.
func DecodeBatch[T any](c Codec[T], b []byte) ([]T, error) {
	count, n, err := ConsumeVarint(b)
	if err != nil {
		return nil, err
	}
	b = b[n:]
	// each element takes at least one byte
	if count > uint64(len(b)) {
		return nil, fmt.Errorf("wire: batch claims %d values in %d bytes", count, len(b))
	}
	vs := make([]T, 0, count)
	for i := uint64(0); i < count; i++ {
		v, n, err := c.Consume(b)
		if err != nil {
			return nil, fmt.Errorf("wire: value %d: %w", i, err)
		}
		vs = append(vs, v)
		b = b[n:]
	}
	if len(b) != 0 {
		return nil, ErrTrailingBytes
	}
	return vs, nil
}
