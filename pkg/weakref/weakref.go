// Package weakref provides untyped weak handles to heap values.
//
// A Ref observes a pointer without keeping its target alive. It wraps
// [weak.Pointer] so that values of any pointer type can share one map or
// slice, which the leak detector needs because it tracks controllers of
// arbitrary application types.
//
//	ref, err := weakref.Of(screen)
//	...
//	if v := ref.Value(); v != nil {
//	    // still alive
//	}
//
// Values smaller than 16 bytes that contain no pointers may be placed in the
// runtime's tiny allocator and share their lifetime with neighbours; such
// values can outlive their last reference. Controllers are ordinarily far
// larger than that.
package weakref

import (
	"errors"
	"reflect"
	"runtime"
	"unsafe"
	"weak"
)

var (
	// ErrNil is returned for nil values and typed nil pointers.
	ErrNil = errors.New("weakref: nil value")
	// ErrNotPointer is returned for values that are not pointers.
	ErrNotPointer = errors.New("weakref: value is not a pointer")
	// ErrZeroSize is returned for pointers to zero-size types, which do not
	// have a distinct identity.
	ErrZeroSize = errors.New("weakref: pointer to zero-size type")
)

// Key is the comparable identity of a tracked value: its address and its
// dynamic pointer type. Holding a Key does not keep the value alive.
type Key struct {
	typ reflect.Type
	ptr weak.Pointer[byte]
}

// TypeName returns the dynamic type of the value, e.g. "*app.Screen".
func (k Key) TypeName() string {
	if k.typ == nil {
		return ""
	}
	return k.typ.String()
}

// IsZero reports whether k identifies nothing.
func (k Key) IsZero() bool {
	return k.typ == nil
}

// Ref is a weak handle to a pointer value of any type.
// The zero Ref refers to nothing and is never alive.
type Ref struct {
	key Key
}

// Of returns a weak handle to v, which must be a non-nil pointer to a
// non-zero-size type.
func Of(v any) (Ref, error) {
	p, typ, err := pointerOf(v)
	if err != nil {
		return Ref{}, err
	}
	return Ref{key: Key{typ: typ, ptr: weak.Make(p)}}, nil
}

// Make returns a weak handle to p. A nil p or a pointer to a zero-size
// type yields the zero Ref.
func Make[T any](p *T) Ref {
	if p == nil {
		return Ref{}
	}
	ref, _ := Of(p)
	return ref
}

// FromKey returns a handle for an identity previously obtained from Key.
// The handle resolves only while the original value is alive.
func FromKey(k Key) Ref {
	return Ref{key: k}
}

// KeyOf returns the identity of v without building a full handle.
func KeyOf(v any) (Key, error) {
	ref, err := Of(v)
	return ref.key, err
}

// Key returns the identity of the referenced value. The key stays valid and
// comparable after the value is collected.
func (r Ref) Key() Key {
	return r.key
}

// TypeName returns the dynamic type of the referenced value.
func (r Ref) TypeName() string {
	return r.key.TypeName()
}

// IsZero reports whether r was never bound to a value.
func (r Ref) IsZero() bool {
	return r.key.IsZero()
}

// Value returns the referenced pointer, with its original dynamic type, or
// nil if the value has been collected.
func (r Ref) Value() any {
	if r.key.typ == nil {
		return nil
	}
	p := r.key.ptr.Value()
	if p == nil {
		return nil
	}
	return reflect.NewAt(r.key.typ.Elem(), unsafe.Pointer(p)).Interface()
}

// Alive reports whether the referenced value is still reachable.
func (r Ref) Alive() bool {
	return r.key.typ != nil && r.key.ptr.Value() != nil
}

// OnCollect arranges for fn to be called with v's key on a runtime goroutine
// some time after v becomes unreachable. fn must not reference v.
func OnCollect(v any, fn func(Key)) error {
	p, typ, err := pointerOf(v)
	if err != nil {
		return err
	}
	key := Key{typ: typ, ptr: weak.Make(p)}
	runtime.AddCleanup(p, fn, key)
	return nil
}

func pointerOf(v any) (*byte, reflect.Type, error) {
	if v == nil {
		return nil, nil, ErrNil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return nil, nil, ErrNotPointer
	}
	if rv.IsNil() {
		return nil, nil, ErrNil
	}
	typ := rv.Type()
	if typ.Elem().Size() == 0 {
		return nil, nil, ErrZeroSize
	}
	return (*byte)(rv.UnsafePointer()), typ, nil
}
