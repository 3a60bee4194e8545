package codec

import (
	"bytes"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Bytes is a byte string prefixed by its length.
func Bytes(length Codec[int]) Codec[[]byte] {
	return prefixed{length}
}

// String is UTF-8 text prefixed by its length in bytes.
func String(length Codec[int]) Codec[string] {
	return text{prefixed{length}}
}

type prefixed struct {
	length Codec[int]
}

func (c prefixed) Read(b *bytes.Buffer, ctx *Context) ([]byte, error) {
	n, err := c.length.Read(b, ctx)
	if err != nil {
		return nil, err
	}
	p, err := next(b, n, ctx)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(p), nil
}

func (c prefixed) Write(b *bytes.Buffer, v []byte, ctx *Context) error {
	if err := c.length.Write(b, len(v), ctx); err != nil {
		return err
	}
	put(b, v, ctx)
	return nil
}

type text struct {
	prefixed
}

func (c text) Read(b *bytes.Buffer, ctx *Context) (string, error) {
	p, err := c.prefixed.Read(b, ctx)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", ErrInvalidText
	}
	return string(p), nil
}

func (c text) Write(b *bytes.Buffer, v string, ctx *Context) error {
	return c.prefixed.Write(b, []byte(v), ctx)
}

// Raw is a block of exactly n bytes with no length on the wire.
func Raw(n int) Codec[[]byte] {
	return Sized(func(*Context) (int, error) { return n, nil })
}

// Sized is a raw block whose length is computed from the context, usually
// from a field decoded earlier in the same record.
func Sized(size func(*Context) (int, error)) Codec[[]byte] {
	return sized{size}
}

type sized struct {
	size func(*Context) (int, error)
}

func (c sized) Read(b *bytes.Buffer, ctx *Context) ([]byte, error) {
	n, err := c.size(ctx)
	if err != nil {
		return nil, err
	}
	p, err := next(b, n, ctx)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(p), nil
}

func (c sized) Write(b *bytes.Buffer, v []byte, ctx *Context) error {
	n, err := c.size(ctx)
	if err != nil {
		return err
	}
	if len(v) != n {
		return errors.Wrapf(ErrInvalidLength, "block is %d bytes, want %d", len(v), n)
	}
	put(b, v, ctx)
	return nil
}

// Rest consumes every remaining byte.
var Rest Codec[[]byte] = rest{}

type rest struct{}

func (rest) Read(b *bytes.Buffer, ctx *Context) ([]byte, error) {
	p, _ := next(b, b.Len(), ctx)
	return bytes.Clone(p), nil
}

func (rest) Write(b *bytes.Buffer, v []byte, ctx *Context) error {
	put(b, v, ctx)
	return nil
}
