// Package ir defines the stack-machine instruction set analysed and rewritten
// by capdeps, together with its text assembly form and binary encoding.
package ir

import "fmt"

// Op is a single instruction opcode.
type Op uint8

// Stack and constants.
const (
	OpNop  Op = iota // no operation
	OpConst          // push constant
	OpNull           // push null
	OpLoad           // push local Arg
	OpStore          // pop into local Arg
	OpDup            // duplicate top of stack
	OpPop            // discard top of stack
	OpSwap           // swap the two topmost values
)

// Fields and objects.
const (
	OpGetField  Op = iota + 16 // pop instance, push field Ref
	OpGetStatic                // push static field Ref
	OpPutField                 // pop value and instance
	OpPutStatic                // pop value
	OpNew                      // push new instance of Type
	OpCheckCast                // pop value, push value as Type
)

// Calls and closures.
const (
	OpInvoke  Op = iota + 32 // call Ref with Call dispatch
	OpClosure                // pop Arg captured values, push closure over Ref
	OpReturn                 // return, popping the result if any
	OpFail                   // raise missing capability for Ref
)

// Arrays.
const (
	OpNewArray Op = iota + 48 // pop size, push array of Type
	OpAStore                  // pop value, index, array
	OpALoad                   // pop index, array; push element
)

// Arithmetic and control flow.
const (
	OpAdd    Op = iota + 64 // pop two, push sum
	OpEq                    // pop two, push equality
	OpNot                   // pop bool, push negation
	OpLabel                 // branch target Label
	OpJump                  // jump to Label
	OpJumpIf                // pop bool, jump to Label when true
)

var opNames = map[Op]string{
	OpNop:       "nop",
	OpConst:     "const",
	OpNull:      "null",
	OpLoad:      "load",
	OpStore:     "store",
	OpDup:       "dup",
	OpPop:       "pop",
	OpSwap:      "swap",
	OpGetField:  "getfield",
	OpGetStatic: "getstatic",
	OpPutField:  "putfield",
	OpPutStatic: "putstatic",
	OpNew:       "new",
	OpCheckCast: "checkcast",
	OpInvoke:    "invoke",
	OpClosure:   "closure",
	OpReturn:    "return",
	OpFail:      "fail",
	OpNewArray:  "newarray",
	OpAStore:    "astore",
	OpALoad:     "aload",
	OpAdd:       "add",
	OpEq:        "eq",
	OpNot:       "not",
	OpLabel:     "label",
	OpJump:      "jump",
	OpJumpIf:    "jumpif",
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, len(opNames))
	for op, name := range opNames {
		m[name] = op
	}
	return m
}()

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// LookupOp returns the opcode with the given mnemonic.
func LookupOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// Terminal reports whether control never falls through op. OpFail is not
// terminal: guards precede the instruction they protect and leave the stack
// unchanged.
func (op Op) Terminal() bool {
	return op == OpJump || op == OpReturn
}

// CallKind selects the dispatch of an invoke instruction.
type CallKind uint8

const (
	CallStatic  CallKind = iota // no receiver
	CallVirtual                 // dispatch on the receiver's type
	CallSpecial                 // receiver present, exact owner
)

var callNames = [...]string{
	CallStatic:  "static",
	CallVirtual: "virtual",
	CallSpecial: "special",
}

func (k CallKind) String() string {
	if int(k) < len(callNames) {
		return callNames[k]
	}
	return fmt.Sprintf("call(%d)", uint8(k))
}

func parseCallKind(s string) (CallKind, bool) {
	for i, name := range callNames {
		if name == s {
			return CallKind(i), true
		}
	}
	return 0, false
}
