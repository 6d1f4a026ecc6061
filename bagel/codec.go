package bagel

import (
	"bagelbfs/wire"
)

// envelope carries a signal to the process that owns Target.
type envelope[M any] struct {
	Target uint64
	Msg    M
}

type envelopeCodec[M any] struct {
	msg wire.Codec[M]
}

func (c envelopeCodec[M]) Append(b []byte, e envelope[M]) []byte {
	b = wire.Uint64{}.Append(b, e.Target)
	return c.msg.Append(b, e.Msg)
}

func (c envelopeCodec[M]) Consume(b []byte) (envelope[M], int, error) {
	var e envelope[M]
	target, n, err := wire.Uint64{}.Consume(b)
	if err != nil {
		return e, 0, err
	}
	msg, m, err := c.msg.Consume(b[n:])
	if err != nil {
		return e, 0, err
	}
	e.Target, e.Msg = target, msg
	return e, n + m, nil
}

// vertexRecord replicates one vertex's data to the other processes.
type vertexRecord[V any] struct {
	ID   uint64
	Data V
}

type vertexRecordCodec[V any] struct {
	data wire.Codec[V]
}

func (c vertexRecordCodec[V]) Append(b []byte, r vertexRecord[V]) []byte {
	b = wire.Uint64{}.Append(b, r.ID)
	return c.data.Append(b, r.Data)
}

func (c vertexRecordCodec[V]) Consume(b []byte) (vertexRecord[V], int, error) {
	var r vertexRecord[V]
	id, n, err := wire.Uint64{}.Consume(b)
	if err != nil {
		return r, 0, err
	}
	d, m, err := c.data.Consume(b[n:])
	if err != nil {
		return r, 0, err
	}
	r.ID, r.Data = id, d
	return r, n + m, nil
}
