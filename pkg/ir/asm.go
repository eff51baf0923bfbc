package ir

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/715d/capdeps/pkg/ref"
)

// Compile patterns once at package initialization.
var (
	// unit cap/Abc | capability cap/Abc | unit impl/X implements cap/Abc,cap/Def
	unitPattern = regexp.MustCompile(`^(unit|capability)\s+(\S+)(?:\s+implements\s+(\S+))?$`)

	// field name desc [static]
	fieldPattern = regexp.MustCompile(`^field\s+(\S+)\s+(\S+)(\s+static)?$`)

	// func [public] [static] name (T1,T2)R [locals T3 T4]
	funcPattern = regexp.MustCompile(`^func\s+((?:(?:public|static)\s+)*)(\S+)\s+(\(\S*\)\S+)(?:\s+locals\s+(.+))?$`)

	// name: is shorthand for "label name".
	labelPattern = regexp.MustCompile(`^([A-Za-z_][\w$.]*):$`)
)

// ParseError reports a malformed line in an assembly source.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse reads assembly source and returns the units it declares.
func Parse(file string, r io.Reader) ([]*Unit, error) {
	p := &parser{file: file}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++
		if err := p.parseLine(strings.TrimSpace(scanner.Text())); err != nil {
			return nil, &ParseError{File: file, Line: p.line, Err: err}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	if p.method != nil {
		return nil, &ParseError{File: file, Line: p.line, Err: fmt.Errorf("func %s: missing end", p.method.Name)}
	}
	return p.units, nil
}

// ParseString is Parse over a string.
func ParseString(file, src string) ([]*Unit, error) {
	return Parse(file, strings.NewReader(src))
}

type parser struct {
	file     string
	line     int
	units    []*Unit
	unit     *Unit
	method   *Method
	comments []string
}

func (p *parser) parseLine(line string) error {
	switch {
	case line == "":
		p.comments = nil
		return nil
	case strings.HasPrefix(line, "//"):
		if p.method == nil {
			p.comments = append(p.comments, line)
		}
		return nil
	case p.method != nil:
		if line == "end" {
			p.unit.Methods = append(p.unit.Methods, p.method)
			p.method = nil
			return nil
		}
		in, err := parseInstr(line)
		if err != nil {
			return err
		}
		p.method.Body = append(p.method.Body, in)
		return nil
	}

	directives := p.comments
	p.comments = nil

	if m := unitPattern.FindStringSubmatch(line); m != nil {
		u := &Unit{Name: m[2], Capability: m[1] == "capability", Source: p.file}
		if m[3] != "" {
			u.Implements = strings.Split(m[3], ",")
		}
		p.units = append(p.units, u)
		p.unit = u
		return nil
	}
	if p.unit == nil {
		return errors.New("declaration outside of a unit")
	}
	if m := fieldPattern.FindStringSubmatch(line); m != nil {
		if strings.HasPrefix(m[2], "(") {
			return fmt.Errorf("field %s: method descriptor %s", m[1], m[2])
		}
		p.unit.Fields = append(p.unit.Fields, Field{Name: m[1], Desc: m[2], Static: m[3] != ""})
		return nil
	}
	if m := funcPattern.FindStringSubmatch(line); m != nil {
		return p.beginMethod(m, directives)
	}
	return fmt.Errorf("unexpected %q", line)
}

func (p *parser) beginMethod(m []string, directives []string) error {
	sig, err := ref.ParseSignature(m[3])
	if err != nil {
		return err
	}
	method := &Method{
		Name:       m[2],
		Desc:       m[3],
		Directives: directives,
		Line:       p.line,
	}
	for flag := range strings.FieldsSeq(m[1]) {
		switch flag {
		case "public":
			method.Public = true
		case "static":
			method.Static = true
		}
	}
	if p.unit.Method(method.Name, method.Desc) != nil {
		return fmt.Errorf("duplicate func %s %s", method.Name, method.Desc)
	}

	// Receiver and parameters occupy the first local slots.
	if !method.Static {
		method.Locals = append(method.Locals, p.unit.Name)
	}
	method.Locals = append(method.Locals, sig.Params...)
	if m[4] != "" {
		method.Locals = append(method.Locals, strings.Fields(m[4])...)
	}
	p.method = method
	return nil
}

func parseInstr(line string) (Instr, error) {
	if m := labelPattern.FindStringSubmatch(line); m != nil {
		return Instr{Op: OpLabel, Label: m[1]}, nil
	}

	fields := strings.Fields(line)
	op, ok := LookupOp(fields[0])
	if !ok {
		return Instr{}, fmt.Errorf("unknown instruction %q", fields[0])
	}
	args := fields[1:]
	in := Instr{Op: op}

	switch op {
	case OpConst:
		c, err := parseConst(strings.TrimSpace(strings.TrimPrefix(line, fields[0])))
		if err != nil {
			return Instr{}, err
		}
		in.Const = c
		return in, nil

	case OpLoad, OpStore:
		if len(args) != 1 {
			return Instr{}, fmt.Errorf("%s: want local index", op)
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return Instr{}, fmt.Errorf("%s: bad local index %q", op, args[0])
		}
		in.Arg = n

	case OpGetField, OpPutField, OpGetStatic, OpPutStatic:
		if len(args) != 2 {
			return Instr{}, fmt.Errorf("%s: want owner.name desc", op)
		}
		r, err := ref.Parse(args[0] + " " + args[1])
		if err != nil {
			return Instr{}, err
		}
		if !r.IsField() {
			return Instr{}, fmt.Errorf("%s: %s is not a field", op, r)
		}
		r.Static = op == OpGetStatic || op == OpPutStatic
		in.Ref = r

	case OpFail:
		r, err := ref.Parse(strings.Join(args, " "))
		if err != nil {
			return Instr{}, err
		}
		in.Ref = r

	case OpInvoke:
		if len(args) != 3 {
			return Instr{}, fmt.Errorf("invoke: want kind owner.name desc")
		}
		kind, ok := parseCallKind(args[0])
		if !ok {
			return Instr{}, fmt.Errorf("invoke: unknown call kind %q", args[0])
		}
		r, err := ref.Parse(args[1] + " " + args[2])
		if err != nil {
			return Instr{}, err
		}
		if r.IsField() {
			return Instr{}, fmt.Errorf("invoke: %s is not a method", r)
		}
		r.Static = kind == CallStatic
		in.Call = kind
		in.Ref = r

	case OpClosure:
		return parseClosure(args)

	case OpNew, OpNewArray, OpCheckCast:
		if len(args) != 1 {
			return Instr{}, fmt.Errorf("%s: want type", op)
		}
		in.Type = args[0]

	case OpLabel, OpJump, OpJumpIf:
		if len(args) != 1 {
			return Instr{}, fmt.Errorf("%s: want label", op)
		}
		in.Label = args[0]

	default:
		if len(args) != 0 {
			return Instr{}, fmt.Errorf("%s: unexpected operands", op)
		}
	}
	return in, nil
}

// closure direct|lambda [static] owner.name desc captured
func parseClosure(args []string) (Instr, error) {
	in := Instr{Op: OpClosure}
	if len(args) == 0 {
		return Instr{}, errors.New("closure: want direct|lambda")
	}
	switch args[0] {
	case "direct":
		in.Direct = true
	case "lambda":
	default:
		return Instr{}, fmt.Errorf("closure: unknown kind %q", args[0])
	}
	args = args[1:]
	static := len(args) > 0 && args[0] == "static"
	if static {
		args = args[1:]
	}
	if len(args) != 3 {
		return Instr{}, errors.New("closure: want owner.name desc captured")
	}
	r, err := ref.Parse(args[0] + " " + args[1])
	if err != nil {
		return Instr{}, err
	}
	if r.IsField() {
		return Instr{}, fmt.Errorf("closure: %s is not a method", r)
	}
	n, err := strconv.Atoi(args[2])
	if err != nil || n < 0 {
		return Instr{}, fmt.Errorf("closure: bad captured count %q", args[2])
	}
	r.Static = static
	in.Ref = r
	in.Arg = n
	return in, nil
}

func parseConst(s string) (Const, error) {
	kind, value, ok := strings.Cut(s, " ")
	if !ok {
		return Const{}, fmt.Errorf("const: want kind value")
	}
	value = strings.TrimSpace(value)
	switch kind {
	case "int":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return Const{}, fmt.Errorf("const: bad int %q", value)
		}
		return Int(n), nil
	case "string":
		str, err := strconv.Unquote(value)
		if err != nil {
			return Const{}, fmt.Errorf("const: bad string %s", value)
		}
		return String(str), nil
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return Const{}, fmt.Errorf("const: bad bool %q", value)
		}
		return Bool(b), nil
	}
	return Const{}, fmt.Errorf("const: unknown kind %q", kind)
}
