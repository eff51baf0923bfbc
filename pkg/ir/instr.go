package ir

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/capdeps/pkg/ref"
)

// ConstKind is the type of a constant operand.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstString
	ConstBool
)

// Const is a literal operand of OpConst.
type Const struct {
	Kind ConstKind `cbor:"1,keyasint,omitempty"`
	Int  int64     `cbor:"2,keyasint,omitempty"`
	Str  string    `cbor:"3,keyasint,omitempty"`
	Bool bool      `cbor:"4,keyasint,omitempty"`
}

// Int returns an integer constant.
func Int(v int64) Const { return Const{Kind: ConstInt, Int: v} }

// String returns a string constant.
func String(v string) Const { return Const{Kind: ConstString, Str: v} }

// Bool returns a boolean constant.
func Bool(v bool) Const { return Const{Kind: ConstBool, Bool: v} }

// Value returns the constant as a Go value.
func (c Const) Value() any {
	switch c.Kind {
	case ConstString:
		return c.Str
	case ConstBool:
		return c.Bool
	default:
		return c.Int
	}
}

func (c Const) String() string {
	switch c.Kind {
	case ConstString:
		return "string " + strconv.Quote(c.Str)
	case ConstBool:
		return "bool " + strconv.FormatBool(c.Bool)
	default:
		return "int " + strconv.FormatInt(c.Int, 10)
	}
}

// Instr is one instruction. Which operands are meaningful depends on Op.
type Instr struct {
	Op Op `cbor:"1,keyasint"`

	// Ref is the member for field, invoke, closure and fail instructions.
	Ref ref.Reference `cbor:"2,keyasint,omitempty"`

	// Call is the dispatch kind of OpInvoke.
	Call CallKind `cbor:"3,keyasint,omitempty"`

	// Arg is the local index of OpLoad/OpStore and the captured count of OpClosure.
	Arg int `cbor:"4,keyasint,omitempty"`

	// Type is the operand type of OpNew, OpNewArray and OpCheckCast.
	Type string `cbor:"5,keyasint,omitempty"`

	// Label names the target of OpLabel, OpJump and OpJumpIf.
	Label string `cbor:"6,keyasint,omitempty"`

	// Const is the literal pushed by OpConst.
	Const Const `cbor:"7,keyasint,omitempty"`

	// Direct marks a closure over an unwrapped member reference rather than a
	// synthetic lambda body.
	Direct bool `cbor:"8,keyasint,omitempty"`
}

// Invoke returns a call instruction.
func Invoke(kind CallKind, r ref.Reference) Instr {
	return Instr{Op: OpInvoke, Call: kind, Ref: r}
}

// Fail returns a missing-capability guard for r.
func Fail(r ref.Reference) Instr {
	return Instr{Op: OpFail, Ref: r}
}

// Simple returns an instruction without operands.
func Simple(op Op) Instr {
	return Instr{Op: op}
}

func (in Instr) String() string {
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpConst:
		b.WriteByte(' ')
		b.WriteString(in.Const.String())
	case OpLoad, OpStore:
		fmt.Fprintf(&b, " %d", in.Arg)
	case OpGetField, OpGetStatic, OpPutField, OpPutStatic:
		fmt.Fprintf(&b, " %s %s", in.Ref.Member(), in.Ref.Desc)
	case OpFail:
		fmt.Fprintf(&b, " %s %s", in.Ref.Member(), in.Ref.Desc)
		if in.Ref.Static {
			b.WriteString(" static")
		}
	case OpInvoke:
		fmt.Fprintf(&b, " %s %s %s", in.Call, in.Ref.Member(), in.Ref.Desc)
	case OpClosure:
		kind := "lambda"
		if in.Direct {
			kind = "direct"
		}
		fmt.Fprintf(&b, " %s", kind)
		if in.Ref.Static {
			b.WriteString(" static")
		}
		fmt.Fprintf(&b, " %s %s %d", in.Ref.Member(), in.Ref.Desc, in.Arg)
	case OpNew, OpNewArray, OpCheckCast:
		b.WriteByte(' ')
		b.WriteString(in.Type)
	case OpLabel, OpJump, OpJumpIf:
		b.WriteByte(' ')
		b.WriteString(in.Label)
	}
	return b.String()
}
