package tp

import (
	"strconv"
	"unsafe"
)

// WordSize is the size in bytes of one slot in the word-addressed
// memory model compiler/exec's interpreter runs on: every struct
// field and array element occupies exactly one machine word,
// regardless of its own declared width.
const WordSize = unsafe.Sizeof(uintptr(0))

// Slots reports how many WordSize slots a value of type t occupies
// under that model: one per struct field, one per array element, one
// for everything else.
func Slots(t Type) int {
	switch v := t.(type) {
	case Struct:
		return len(v.Fields)
	case Array:
		return v.Len
	default:
		return 1
	}
}

type (
	Type interface {
		Size() int
	}

	Int struct {
		Bits   int16
		Signed bool
	}

	Untyped struct{}

	// Void is the type of a field that exists only to reserve an
	// offset (e.g. an unused task return slot for a void task).
	Void struct{}

	Ptr struct {
		X Type
	}

	Array struct {
		X   Type
		Len int
	}

	Struct struct {
		Fields []StructField
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}
)

func (x Int) Size() int {
	return int(x.Bits) / 8
}

func (x Ptr) Size() int {
	return 8
}

func (x Array) Size() int {
	return x.X.Size() * x.Len
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		s += f.Type.Size()
	}

	return s
}

func (x Void) Size() int {
	return 0
}

// NewStruct lays out fields back to back in order, computing each
// field's Offset, the way spec.md §3's argument-struct layouts are
// built fresh per construct.
func NewStruct(fields ...StructField) Struct {
	off := 0

	for i := range fields {
		fields[i].Offset = off
		off += fields[i].Type.Size()
	}

	return Struct{Fields: fields}
}

// NewCapturedArgsStruct builds the parallel-for captured-args layout
// of spec.md §3: one field per value in the construct's capture set,
// in first-encounter order.
func NewCapturedArgsStruct(captured []Type) Struct {
	fields := make([]StructField, len(captured))

	for i, t := range captured {
		fields[i] = StructField{Name: strconv.Itoa(i), Type: t}
	}

	return NewStruct(fields...)
}

// NewTaskArgsStruct builds the task argument-struct layout of
// spec.md §3: { void* future, i32 depth, ReturnT ret, Arg0, Arg1, ... }.
func NewTaskArgsStruct(ret Type, args []Type) Struct {
	fields := []StructField{
		{Name: "future", Type: Ptr{X: Untyped{}}},
		{Name: "depth", Type: Int{Bits: 32, Signed: true}},
		{Name: "ret", Type: ret},
	}

	for i, t := range args {
		fields = append(fields, StructField{Name: strconv.Itoa(i), Type: t})
	}

	return NewStruct(fields...)
}

func (Untyped) Size() int { return 8 }
