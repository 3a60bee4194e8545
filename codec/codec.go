// Package codec converts between byte buffers and values. Primitive codecs
// handle scalars; Record, List and friends compose them into message shapes
// whose fields may depend on fields decoded earlier in the same call.
package codec

import (
	"bytes"

	"github.com/pkg/errors"
)

var (
	ErrShortBuffer   = errors.New("codec: short buffer")
	ErrInvalidLength = errors.New("codec: invalid length")
	ErrUnknownEnum   = errors.New("codec: unknown enum value")
	ErrOverflow      = errors.New("codec: value overflows target width")
	ErrInvalidText   = errors.New("codec: invalid utf-8 text")
)

// Codec reads and writes values of type T. Implementations must add the
// exact number of bytes consumed or produced to ctx.N.
type Codec[T any] interface {
	Read(b *bytes.Buffer, ctx *Context) (T, error)
	Write(b *bytes.Buffer, v T, ctx *Context) error
}

// Context is the state threaded through one top-level Encode or Decode.
type Context struct {
	// N is the number of bytes consumed or produced so far.
	N int
	// Values lists every record field value in processing order.
	Values []any

	scopes []map[string]any
}

// Push opens a new innermost scope.
func (ctx *Context) Push() {
	ctx.scopes = append(ctx.scopes, nil)
}

// Pop discards the innermost scope.
func (ctx *Context) Pop() {
	if len(ctx.scopes) == 0 {
		return
	}
	ctx.scopes[len(ctx.scopes)-1] = nil
	ctx.scopes = ctx.scopes[:len(ctx.scopes)-1]
}

// Depth reports the number of open scopes.
func (ctx *Context) Depth() int {
	return len(ctx.scopes)
}

// Set stores v under name in the innermost scope.
func (ctx *Context) Set(name string, v any) {
	if len(ctx.scopes) == 0 {
		ctx.Push()
	}
	top := &ctx.scopes[len(ctx.scopes)-1]
	if *top == nil {
		*top = make(map[string]any)
	}
	(*top)[name] = v
}

// Lookup finds name starting at the innermost scope and walking outward.
func (ctx *Context) Lookup(name string) (any, bool) {
	for i := len(ctx.scopes) - 1; i >= 0; i-- {
		if v, ok := ctx.scopes[i][name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (ctx *Context) record(name string, v any) {
	ctx.Values = append(ctx.Values, v)
	if name != "" {
		ctx.Set(name, v)
	}
}

// Lookup is the typed form of Context.Lookup. It reports false when name is
// missing or holds a value of another type.
func Lookup[T any](ctx *Context, name string) (T, bool) {
	v, ok := ctx.Lookup(name)
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Encode writes v with a fresh Context and returns the produced bytes.
func Encode[T any](c Codec[T], v T) ([]byte, error) {
	var b bytes.Buffer
	if err := c.Write(&b, v, new(Context)); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Decode reads one T from p with a fresh Context and reports how many bytes
// were consumed.
func Decode[T any](c Codec[T], p []byte) (T, int, error) {
	ctx := new(Context)
	v, err := c.Read(bytes.NewBuffer(p), ctx)
	return v, ctx.N, err
}

// Func builds a Codec from a pair of functions.
func Func[T any](read func(*bytes.Buffer, *Context) (T, error), write func(*bytes.Buffer, T, *Context) error) Codec[T] {
	return funcCodec[T]{read, write}
}

type funcCodec[T any] struct {
	read  func(*bytes.Buffer, *Context) (T, error)
	write func(*bytes.Buffer, T, *Context) error
}

func (c funcCodec[T]) Read(b *bytes.Buffer, ctx *Context) (T, error) {
	return c.read(b, ctx)
}

func (c funcCodec[T]) Write(b *bytes.Buffer, v T, ctx *Context) error {
	return c.write(b, v, ctx)
}

func next(b *bytes.Buffer, n int, ctx *Context) ([]byte, error) {
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidLength, "negative length %d", n)
	}
	if b.Len() < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", n, b.Len())
	}
	ctx.N += n
	return b.Next(n), nil
}

func put(b *bytes.Buffer, p []byte, ctx *Context) {
	b.Write(p)
	ctx.N += len(p)
}
