package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"io"
	"sync"

	"github.com/Nathan-Paranhos/AithosRag-sub003/errors"
)

// objectPool provides a pool of reusable objects
type objectPool[T any] struct {
	pool sync.Pool
}

func newObjectPool[T any](newFunc func() T) *objectPool[T] {
	return &objectPool[T]{
		pool: sync.Pool{
			New: func() any {
				return newFunc()
			},
		},
	}
}

func (p *objectPool[T]) get() T {
	return p.pool.Get().(T)
}

func (p *objectPool[T]) put(x T) {
	p.pool.Put(x)
}

var (
	bufferPool = newObjectPool(func() *bytes.Buffer { return new(bytes.Buffer) })
	writerPool = newObjectPool(func() *gzip.Writer { return gzip.NewWriter(io.Discard) })
)

// compressValue gzips raw JSON and returns it as a JSON string of base64
func compressValue(raw []byte) (json.RawMessage, error) {
	buf := bufferPool.get()
	buf.Reset()
	defer bufferPool.put(buf)

	zw := writerPool.get()
	defer writerPool.put(zw)
	zw.Reset(buf)

	if _, err := zw.Write(raw); err != nil {
		return nil, errors.WrapError("compress", nil, errors.Join(errors.ErrCompression, err))
	}
	if err := zw.Close(); err != nil {
		return nil, errors.WrapError("compress", nil, errors.Join(errors.ErrCompression, err))
	}

	encoded, err := json.Marshal(base64.StdEncoding.EncodeToString(buf.Bytes()))
	if err != nil {
		return nil, errors.WrapError("compress", nil, errors.Join(errors.ErrCompression, err))
	}
	return encoded, nil
}

// decompressValue reverses compressValue
func decompressValue(packed json.RawMessage) ([]byte, error) {
	var encoded string
	if err := json.Unmarshal(packed, &encoded); err != nil {
		return nil, errors.WrapError("decompress", nil, errors.Join(errors.ErrDecompression, err))
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.WrapError("decompress", nil, errors.Join(errors.ErrDecompression, err))
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapError("decompress", nil, errors.Join(errors.ErrDecompression, err))
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.WrapError("decompress", nil, errors.Join(errors.ErrDecompression, err))
	}
	return raw, nil
}
