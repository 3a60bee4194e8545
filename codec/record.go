package codec

import (
	"bytes"

	"github.com/pkg/errors"
)

// Field is one named member of a Record over T.
type Field[T any] interface {
	Name() string
	read(b *bytes.Buffer, ctx *Context, dst *T) error
	write(b *bytes.Buffer, src *T, ctx *Context) error
}

// Bind ties codec c to the member of T returned by at. When name is not
// empty the member's value is visible to later fields of this record and
// of records nested inside it.
func Bind[T, F any](name string, c Codec[F], at func(*T) *F) Field[T] {
	return binding[T, F]{name, c, at}
}

type binding[T, F any] struct {
	name string
	c    Codec[F]
	at   func(*T) *F
}

func (f binding[T, F]) Name() string { return f.name }

func (f binding[T, F]) read(b *bytes.Buffer, ctx *Context, dst *T) error {
	v, err := f.c.Read(b, ctx)
	if err != nil {
		return f.wrap(err)
	}
	*f.at(dst) = v
	ctx.record(f.name, v)
	return nil
}

func (f binding[T, F]) write(b *bytes.Buffer, src *T, ctx *Context) error {
	v := *f.at(src)
	if err := f.c.Write(b, v, ctx); err != nil {
		return f.wrap(err)
	}
	ctx.record(f.name, v)
	return nil
}

func (f binding[T, F]) wrap(err error) error {
	if f.name == "" {
		return err
	}
	return errors.WithMessage(err, f.name)
}

// Record reads and writes the fields of T in declaration order. Each call
// runs inside its own context scope.
func Record[T any](fields ...Field[T]) Codec[T] {
	return record[T]{fields}
}

type record[T any] struct {
	fields []Field[T]
}

func (r record[T]) Read(b *bytes.Buffer, ctx *Context) (T, error) {
	var v T
	ctx.Push()
	defer ctx.Pop()
	for _, f := range r.fields {
		if err := f.read(b, ctx, &v); err != nil {
			return v, err
		}
	}
	return v, nil
}

func (r record[T]) Write(b *bytes.Buffer, v T, ctx *Context) error {
	ctx.Push()
	defer ctx.Pop()
	for _, f := range r.fields {
		if err := f.write(b, &v, ctx); err != nil {
			return err
		}
	}
	return nil
}

// List is a count followed by that many items.
func List[T any](count Codec[int], item Codec[T]) Codec[[]T] {
	return list[T]{count: count, item: item}
}

// Array is exactly n items with no count on the wire.
func Array[T any](n int, item Codec[T]) Codec[[]T] {
	return list[T]{fixed: n, item: item}
}

type list[T any] struct {
	count Codec[int]
	fixed int
	item  Codec[T]
}

func (l list[T]) Read(b *bytes.Buffer, ctx *Context) ([]T, error) {
	n := l.fixed
	if l.count != nil {
		var err error
		if n, err = l.count.Read(b, ctx); err != nil {
			return nil, err
		}
	}
	out := make([]T, 0, min(n, b.Len()))
	for i := 0; i < n; i++ {
		v, err := l.item.Read(b, ctx)
		if err != nil {
			return nil, errors.WithMessagef(err, "item %d/%d", i, n)
		}
		out = append(out, v)
	}
	return out, nil
}

func (l list[T]) Write(b *bytes.Buffer, v []T, ctx *Context) error {
	if l.count != nil {
		if err := l.count.Write(b, len(v), ctx); err != nil {
			return err
		}
	} else if len(v) != l.fixed {
		return errors.Wrapf(ErrInvalidLength, "array has %d items, want %d", len(v), l.fixed)
	}
	for i, item := range v {
		if err := l.item.Write(b, item, ctx); err != nil {
			return errors.WithMessagef(err, "item %d/%d", i, len(v))
		}
	}
	return nil
}

// Until repeats item until the buffer is drained.
func Until[T any](item Codec[T]) Codec[[]T] {
	return until[T]{item}
}

type until[T any] struct {
	item Codec[T]
}

func (u until[T]) Read(b *bytes.Buffer, ctx *Context) ([]T, error) {
	var out []T
	for b.Len() > 0 {
		v, err := u.item.Read(b, ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (u until[T]) Write(b *bytes.Buffer, v []T, ctx *Context) error {
	for _, item := range v {
		if err := u.item.Write(b, item, ctx); err != nil {
			return err
		}
	}
	return nil
}

// Optional skips c entirely, reading the zero value, whenever absent reports
// true for the current context.
func Optional[T any](c Codec[T], absent func(*Context) bool) Codec[T] {
	return optional[T]{c, absent}
}

type optional[T any] struct {
	c      Codec[T]
	absent func(*Context) bool
}

func (o optional[T]) Read(b *bytes.Buffer, ctx *Context) (T, error) {
	if o.absent(ctx) {
		var zero T
		return zero, nil
	}
	return o.c.Read(b, ctx)
}

func (o optional[T]) Write(b *bytes.Buffer, v T, ctx *Context) error {
	if o.absent(ctx) {
		return nil
	}
	return o.c.Write(b, v, ctx)
}

// Enum maps wire values of an inner codec onto a closed set of names.
func Enum[W, T comparable](c Codec[W], names map[W]T) Codec[T] {
	values := make(map[T]W, len(names))
	for w, t := range names {
		values[t] = w
	}
	return enum[W, T]{c, names, values}
}

type enum[W, T comparable] struct {
	c      Codec[W]
	names  map[W]T
	values map[T]W
}

func (e enum[W, T]) Read(b *bytes.Buffer, ctx *Context) (T, error) {
	w, err := e.c.Read(b, ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	t, ok := e.names[w]
	if !ok {
		return t, errors.Wrapf(ErrUnknownEnum, "%v", w)
	}
	return t, nil
}

func (e enum[W, T]) Write(b *bytes.Buffer, v T, ctx *Context) error {
	w, ok := e.values[v]
	if !ok {
		return errors.Wrapf(ErrUnknownEnum, "%v", v)
	}
	return e.c.Write(b, w, ctx)
}
