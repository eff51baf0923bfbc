package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/capdeps/pkg/ir"
	"github.com/715d/capdeps/pkg/oracle"
	"github.com/715d/capdeps/pkg/ref"
)

const abcSource = `capability cap/Abc

func public a ()string
    load 0
    invoke virtual cap/Abc.unimplemented ()any
    checkcast string
    return
end

func public b ()string
    load 0
    invoke virtual cap/Abc.unimplemented ()any
    checkcast string
    return
end

func public c ()string
    load 0
    invoke virtual cap/Abc.unimplemented ()any
    checkcast string
    return
end

func public d ()string
    const string "DDDDDD"
    return
end

func public e ()string
end

unit impl/AbcImpl implements cap/Abc

func public a ()string
    const string "A"
    return
end
`

const simpleSource = `unit test/Simple

func public static testA (cap/Abc)string
    load 0
    invoke virtual cap/Abc.a ()string
    return
end

func public static testB (cap/Abc)any
    const int 3
    newarray capdeps/Supplier
    dup
    const int 0
    load 0
    closure lambda static test/Simple.lambda$testB$0 (cap/Abc)any 1
    astore
    dup
    const int 1
    load 0
    closure direct cap/Abc.b ()string 1
    astore
    dup
    const int 2
    load 0
    closure direct cap/Abc.d ()string 1
    astore
    invoke static capdeps/Usage.requireOneOf ([]capdeps/Supplier)any
    return
end

func static lambda$testB$0 (cap/Abc)any
    load 0
    invoke static test/Simple.deep (cap/Abc)string
    return
end

func static deep (cap/Abc)string
    load 0
    invoke virtual cap/Abc.c ()string
    return
end

func public static testC (cap/Abc)string
    load 0
    invoke virtual cap/Abc.b ()string
    return
end

func public static testD (cap/Abc)any
    const int 2
    newarray capdeps/Supplier
    dup
    const int 0
    load 0
    closure direct cap/Abc.b ()string 1
    astore
    dup
    const int 1
    load 0
    closure direct cap/Abc.c ()string 1
    astore
    invoke static capdeps/Usage.requireOneOf ([]capdeps/Supplier)any
    return
end

func public static testE (cap/Abc)any
    load 0
    closure lambda static test/Simple.lambda$testE$0 (cap/Abc)string 1
    invoke static capdeps/Usage.optionally (capdeps/Supplier)capdeps/Optional
    const string "ABC"
    invoke virtual capdeps/Optional.orElse (any)any
    return
end

func static lambda$testE$0 (cap/Abc)string
    load 0
    invoke virtual cap/Abc.e ()string
    return
end
`

type fixture struct {
	program *ir.Program
	table   *oracle.Table
	run     *Run
}

func newFixture(t *testing.T, opts Options, sources ...string) *fixture {
	t.Helper()
	var units []*ir.Unit
	for i, src := range sources {
		parsed, err := ir.ParseString("source"+string(rune('0'+i))+".casm", src)
		require.NoError(t, err)
		units = append(units, parsed...)
	}
	p, err := ir.NewProgram(units...)
	require.NoError(t, err)
	require.NoError(t, p.Validate())

	table := oracle.FromProgram(p, oracle.Options{})
	opts.Hooks = append(opts.Hooks, CapabilityHook{Capabilities: table}, FieldHook{Providers: table})
	return &fixture{program: p, table: table, run: New(p, table, opts)}
}

func (f *fixture) analyze(t *testing.T, names ...string) []*ClassResult {
	t.Helper()
	units := make([]*ir.Unit, len(names))
	for i, n := range names {
		units[i] = f.program.Unit(n)
		require.NotNil(t, units[i], n)
	}
	res, err := f.run.Analyze(units...)
	require.NoError(t, err)
	return res
}

func abc(name string) ref.Reference {
	return ref.Method("cap/Abc", name, "()string", false)
}

func body(t *testing.T, res *ClassResult, name string) string {
	t.Helper()
	for _, m := range res.Unit.Methods {
		if m.Name == name {
			lines := make([]string, len(m.Body))
			for i, in := range m.Body {
				lines[i] = in.String()
			}
			return strings.Join(lines, "\n")
		}
	}
	t.Fatalf("no method %s", name)
	return ""
}

func TestAnalyze_Simple(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	res := f.analyze(t, "test/Simple")[0]

	assert.Equal(t, []ref.Reference{abc("a"), abc("b"), abc("d")}, res.Required())
	assert.Equal(t, []ref.Reference{abc("c"), abc("e")}, res.Optional())
	assert.False(t, res.AllImplemented(f.table))
	assert.Equal(t, []ref.Reference{abc("b")}, res.Missing(f.table))

	require.Len(t, res.Groups, 2)
	testB, testD := res.Groups[0], res.Groups[1]
	assert.True(t, testB.Satisfied)
	assert.Equal(t, abc("d"), testB.Chosen[0].Target)
	assert.False(t, testD.Satisfied)
	assert.Empty(t, testD.Chosen)
	assert.Len(t, testD.Rejected, 2)
}

func TestAnalyze_SimpleRewrite(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	res := f.analyze(t, "test/Simple")[0]

	tests := []struct {
		method string
		want   string
	}{
		{
			method: "testA",
			want: `load 0
invoke virtual cap/Abc.a ()string
return`,
		},
		{
			method: "testC",
			want: `load 0
fail cap/Abc.b ()string
invoke virtual cap/Abc.b ()string
return`,
		},
		{
			method: "testE",
			want: `load 0
pop
null
invoke static capdeps/Usage.notPresentOptional (capdeps/Supplier)capdeps/Optional
const string "ABC"
invoke virtual capdeps/Optional.orElse (any)any
return`,
		},
		{
			method: "testD",
			want: `const int 2
newarray capdeps/Supplier
dup
const int 0
load 0
pop
null
astore
dup
const int 1
load 0
pop
null
astore
invoke static capdeps/Usage.nonePresent ([]capdeps/Supplier)any
return`,
		},
		{
			// Only used optionally, so no guard for c.
			method: "deep",
			want: `load 0
invoke virtual cap/Abc.c ()string
return`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, body(t, res, tt.method))
		})
	}

	testB := body(t, res, "testB")
	assert.Contains(t, testB, "closure direct cap/Abc.d ()string 1")
	assert.NotContains(t, testB, "closure direct cap/Abc.b")
	assert.NotContains(t, testB, "lambda$testB$0")
	assert.Contains(t, testB, "invoke static capdeps/Usage.onePresent")
}

func TestAnalyze_Counters(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	f.analyze(t, "test/Simple")

	tests := []struct {
		member   ref.Reference
		required bool
	}{
		{member: ref.Method("test/Simple", "testA", "(cap/Abc)string", true), required: true},
		{member: ref.Method("test/Simple", "deep", "(cap/Abc)string", true), required: false},
		{member: ref.Method("test/Simple", "lambda$testB$0", "(cap/Abc)any", true), required: false},
		{member: ref.Method("test/Simple", "lambda$testE$0", "(cap/Abc)string", true), required: false},
		{member: abc("d"), required: true},
	}

	for _, tt := range tests {
		t.Run(tt.member.Member(), func(t *testing.T) {
			a, ok := f.run.Lookup(tt.member)
			require.True(t, ok)
			assert.Equal(t, tt.required, a.Counter < 0, "counter %d", a.Counter)
			if tt.member.Owner == "test/Simple" {
				assert.True(t, a.Complete())
			}
		})
	}
}

func TestAnalyze_RepeatedUnit(t *testing.T) {
	once := newFixture(t, Options{}, abcSource, simpleSource)
	want := once.analyze(t, "test/Simple")[0]

	twice := newFixture(t, Options{}, abcSource, simpleSource)
	res := twice.analyze(t, "test/Simple", "test/Simple")
	require.Len(t, res, 2)
	assert.Same(t, res[0], res[1])
	assert.Equal(t, want.Required(), res[0].Required())
	assert.Equal(t, want.Optional(), res[0].Optional())

	for _, member := range []ref.Reference{
		ref.Method("test/Simple", "testA", "(cap/Abc)string", true),
		ref.Method("test/Simple", "testB", "(cap/Abc)any", true),
		ref.Method("test/Simple", "deep", "(cap/Abc)string", true),
	} {
		a, ok := once.run.Lookup(member)
		require.True(t, ok, member.Member())
		b, ok := twice.run.Lookup(member)
		require.True(t, ok, member.Member())
		assert.Equal(t, a.Counter, b.Counter, member.Member())
	}
}

func TestAnalyze_EmptyBodyIsStub(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	f.analyze(t, "test/Simple")

	e, ok := f.run.Lookup(abc("e"))
	require.True(t, ok)
	assert.True(t, e.Partial)
	assert.False(t, e.Complete())
	assert.Empty(t, e.Required)

	d, ok := f.run.Lookup(abc("d"))
	require.True(t, ok)
	assert.False(t, d.Partial)
}

func TestAnalyze_Idempotent(t *testing.T) {
	first := newFixture(t, Options{}, abcSource, simpleSource)
	a := first.analyze(t, "test/Simple")[0]
	again := first.analyze(t, "test/Simple")[0]
	assert.Same(t, a, again)

	second := newFixture(t, Options{}, abcSource, simpleSource)
	b := second.analyze(t, "test/Simple")[0]

	encA, err := ir.MarshalUnit(a.Unit)
	require.NoError(t, err)
	encB, err := ir.MarshalUnit(b.Unit)
	require.NoError(t, err)
	assert.Equal(t, encA, encB)
	assert.Equal(t, a.Dependencies, b.Dependencies)
}

func TestAnalyze_InputUntouched(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	before := ir.Sprint(f.program.Unit("test/Simple"))
	f.analyze(t, "test/Simple")
	assert.Equal(t, before, ir.Sprint(f.program.Unit("test/Simple")))
}

const xyzSource = `capability cap/Xyz

func public x ()int
    load 0
    invoke virtual cap/Xyz.unimplemented ()any
    return
end

func public y ()int
    load 0
    invoke virtual cap/Xyz.unimplemented ()any
    return
end

func public z ()int
    load 0
    invoke virtual cap/Xyz.unimplemented ()any
    return
end

unit impl/Xyz implements cap/Xyz

func public y ()int
    const int 2
    return
end

func public z ()int
    const int 3
    return
end
`

func TestAnalyze_RequireOneOf(t *testing.T) {
	tests := []struct {
		name      string
		order     string
		chosen    []ref.Reference
		rejected  []ref.Reference
		satisfied bool
		sub       string
	}{
		{
			name:      "first implemented wins",
			order:     "x y z",
			chosen:    []ref.Reference{xyz("y")},
			rejected:  []ref.Reference{xyz("x"), xyz("z")},
			satisfied: true,
			sub:       "onePresent",
		},
		{
			name:      "declared order decides",
			order:     "z y",
			chosen:    []ref.Reference{xyz("z")},
			rejected:  []ref.Reference{xyz("y")},
			satisfied: true,
			sub:       "onePresent",
		},
		{
			name:      "none implemented",
			order:     "x",
			rejected:  []ref.Reference{xyz("x")},
			satisfied: false,
			sub:       "nonePresent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{}, xyzSource, oneOfSource(strings.Fields(tt.order)))
			res := f.analyze(t, "test/OneOf")[0]

			require.Len(t, res.Groups, 1)
			g := res.Groups[0]
			assert.Equal(t, tt.satisfied, g.Satisfied)
			assert.Equal(t, tt.chosen, targetsOf(g.Chosen))
			assert.Equal(t, tt.rejected, targetsOf(g.Rejected))
			assert.Equal(t, tt.chosen, res.Required())
			assert.ElementsMatch(t, tt.rejected, res.Optional())
			assert.Contains(t, body(t, res, "pick"), "capdeps/Usage."+tt.sub)
		})
	}
}

func oneOfSource(members []string) string {
	var b strings.Builder
	b.WriteString("unit test/OneOf\n\nfunc public static pick (cap/Xyz)any\n")
	b.WriteString("    const int " + string(rune('0'+len(members))) + "\n")
	b.WriteString("    newarray capdeps/Supplier\n")
	for i, m := range members {
		b.WriteString("    dup\n")
		b.WriteString("    const int " + string(rune('0'+i)) + "\n")
		b.WriteString("    load 0\n")
		b.WriteString("    closure direct cap/Xyz." + m + " ()int 1\n")
		b.WriteString("    astore\n")
	}
	b.WriteString("    invoke static capdeps/Usage.requireOneOf ([]capdeps/Supplier)any\n")
	b.WriteString("    return\nend\n")
	return b.String()
}

func xyz(name string) ref.Reference {
	return ref.Method("cap/Xyz", name, "()int", false)
}

func targetsOf(deps []Direct) []ref.Reference {
	var out []ref.Reference
	for _, d := range deps {
		out = append(out, d.Target)
	}
	return out
}

func TestAnalyze_Optionally(t *testing.T) {
	src := `unit test/Opt

func public static run (cap/Xyz)bool
    load 0
    closure lambda static test/Opt.lambda$run$0 (cap/Xyz)void 1
    invoke static capdeps/Usage.optionally (capdeps/Runnable)bool
    return
end

func static lambda$run$0 (cap/Xyz)void
    load 0
    invoke virtual cap/Xyz.y ()int
    pop
    return
end

func public static missing (cap/Xyz)bool
    load 0
    closure lambda static test/Opt.lambda$missing$0 (cap/Xyz)void 1
    invoke static capdeps/Usage.optionally (capdeps/Runnable)bool
    return
end

func static lambda$missing$0 (cap/Xyz)void
    load 0
    invoke virtual cap/Xyz.x ()int
    pop
    return
end
`
	f := newFixture(t, Options{}, xyzSource, src)
	res := f.analyze(t, "test/Opt")[0]

	assert.Empty(t, res.Required())
	assert.Equal(t, []ref.Reference{xyz("x"), xyz("y")}, res.Optional())

	assert.Equal(t, `load 0
closure lambda static test/Opt.lambda$run$0 (cap/Xyz)void 1
invoke static capdeps/Usage.optionally (capdeps/Runnable)bool
return`, body(t, res, "run"))

	assert.Equal(t, `load 0
pop
null
invoke static capdeps/Usage.notPresentBool (capdeps/Runnable)bool
return`, body(t, res, "missing"))
}

func TestAnalyze_Cycle(t *testing.T) {
	src := `unit test/Cycle

func public static f (cap/Xyz)int
    load 0
    invoke static test/Cycle.g (cap/Xyz)int
    return
end

func static g (cap/Xyz)int
    load 0
    invoke static test/Cycle.f (cap/Xyz)int
    pop
    load 0
    invoke virtual cap/Xyz.x ()int
    return
end

func static self (cap/Xyz)int
    load 0
    invoke static test/Cycle.self (cap/Xyz)int
    return
end
`
	f := newFixture(t, Options{}, xyzSource, src)
	res := f.analyze(t, "test/Cycle")[0]
	assert.Equal(t, []ref.Reference{xyz("x")}, res.Required())

	self, ok := f.run.Lookup(ref.Method("test/Cycle", "self", "(cap/Xyz)int", true))
	require.True(t, ok)
	assert.Empty(t, self.Callees())
}

const diamondSource = `unit test/Diamond

func public static root (cap/Xyz)int
    load 0
    invoke static test/Diamond.left (cap/Xyz)int
    pop
    load 0
    invoke static test/Diamond.right (cap/Xyz)int
    return
end

func static left (cap/Xyz)int
    load 0
    invoke static test/Diamond.shared (cap/Xyz)int
    return
end

func static right (cap/Xyz)int
    load 0
    invoke static test/Diamond.shared (cap/Xyz)int
    return
end

func static shared (cap/Xyz)int
    load 0
    invoke virtual cap/Xyz.y ()int
    return
end
`

func TestAnalyze_DiamondPropagation(t *testing.T) {
	tests := []struct {
		mode Propagation
		want int
	}{
		{mode: PropagateOnce, want: -1},
		{mode: PropagatePerPath, want: -2},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			f := newFixture(t, Options{Propagation: tt.mode}, xyzSource, diamondSource)
			res := f.analyze(t, "test/Diamond")[0]
			assert.Equal(t, []ref.Reference{xyz("y")}, res.Required())

			shared, ok := f.run.Lookup(ref.Method("test/Diamond", "shared", "(cap/Xyz)int", true))
			require.True(t, ok)
			assert.Equal(t, tt.want, shared.Counter)
		})
	}
}

func TestParsePropagation(t *testing.T) {
	for _, s := range []string{"", "once", "ONCE"} {
		p, err := ParsePropagation(s)
		require.NoError(t, err)
		assert.Equal(t, PropagateOnce, p)
	}
	p, err := ParsePropagation("per-path")
	require.NoError(t, err)
	assert.Equal(t, PropagatePerPath, p)

	_, err = ParsePropagation("sometimes")
	require.Error(t, err)
}

func TestAnalyze_SupersedesStub(t *testing.T) {
	callerSrc := `unit test/Caller

func public static call ()int
    invoke static test/Late.value ()int
    return
end
`
	lateSrc := `unit test/Late

func public static value ()int
    const int 1
    return
end
`
	secondSrc := `unit test/Second

func public static call ()int
    invoke static test/Late.value ()int
    return
end
`
	f := newFixture(t, Options{}, xyzSource, callerSrc, secondSrc)
	f.analyze(t, "test/Caller")

	target := ref.Method("test/Late", "value", "()int", true)
	stub, ok := f.run.Lookup(target)
	require.True(t, ok)
	assert.True(t, stub.Partial)
	counter := stub.Counter

	late, err := ir.ParseString("late.casm", lateSrc)
	require.NoError(t, err)
	require.NoError(t, f.program.Add(late[0]))

	f.analyze(t, "test/Second")
	full, ok := f.run.Lookup(target)
	require.True(t, ok)
	assert.Same(t, stub, full)
	assert.False(t, full.Partial)
	assert.Less(t, full.Counter, counter, "required marks carry over")
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		target error
	}{
		{
			name: "underflow",
			src: `unit test/Bad

func public static f ()void
    pop
    return
end
`,
		},
		{
			name: "optionally without closure",
			src: `unit test/Bad

func public static f ()bool
    null
    invoke static capdeps/Usage.optionally (capdeps/Runnable)bool
    return
end
`,
			target: ErrIntrinsicShape,
		},
		{
			name: "requireOneOf over non-constant array",
			src: `unit test/Bad

func public static f (int)any
    load 0
    newarray capdeps/Supplier
    invoke static capdeps/Usage.requireOneOf ([]capdeps/Supplier)any
    return
end
`,
			target: ErrIntrinsicShape,
		},
		{
			name: "requireOneOf over oversized array",
			src: `unit test/Bad

func public static f ()any
    const int 9000000000000000000
    newarray capdeps/Supplier
    invoke static capdeps/Usage.requireOneOf ([]capdeps/Supplier)any
    return
end
`,
			target: ErrIntrinsicShape,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Options{}, xyzSource, tt.src)
			_, err := f.run.Analyze(f.program.Unit("test/Bad"))
			require.Error(t, err)

			var aerr *Error
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, "f", aerr.Ref.Name)
			assert.NotEmpty(t, aerr.Trace)
			assert.True(t, IsAnalysisError(err))
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}

			_, err = f.run.Analyze(f.program.Unit("impl/Xyz"))
			assert.ErrorIs(t, err, ErrAborted)
		})
	}
}

func TestAnalyze_NegativeClosureOperand(t *testing.T) {
	bad := &ir.Unit{Name: "test/Bad", Methods: []*ir.Method{{
		Name:   "f",
		Desc:   "()any",
		Static: true,
		Public: true,
		Body: []ir.Instr{
			{Op: ir.OpNull},
			{Op: ir.OpClosure, Ref: ref.Method("test/Bad", "g", "()any", true), Arg: -1},
			{Op: ir.OpReturn},
		},
	}}}
	p, err := ir.NewProgram(bad)
	require.NoError(t, err)

	table := oracle.FromProgram(p, oracle.Options{})
	_, err = New(p, table, Options{}).Analyze(bad)
	require.Error(t, err)

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "f", aerr.Ref.Name)
	assert.Contains(t, err.Error(), "negative operand count")
}

func TestAnalyze_NestedErrorTrace(t *testing.T) {
	src := `unit test/Bad

func public static outer ()void
    invoke static test/Bad.inner ()void
    return
end

func static inner ()void
    pop
    return
end
`
	f := newFixture(t, Options{}, src)
	_, err := f.run.Analyze(f.program.Unit("test/Bad"))

	var aerr *Error
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "inner", aerr.Ref.Name)
	require.Len(t, aerr.Trace, 2)
	assert.Equal(t, "outer", aerr.Trace[0].Name)
	assert.Contains(t, aerr.FormatTrace(), "  method test/Bad.inner")
}

func TestAnalyze_CapabilityFields(t *testing.T) {
	src := `capability cap/Lonely

func public ping ()void
    load 0
    invoke virtual cap/Lonely.unimplemented ()any
    pop
    return
end

unit test/Holder
field xyz cap/Xyz static
field lonely cap/Lonely static

func public static useXyz ()int
    getstatic test/Holder.xyz cap/Xyz
    invoke virtual cap/Xyz.y ()int
    return
end

func public static useLonely ()void
    getstatic test/Holder.lonely cap/Lonely
    pop
    return
end
`
	f := newFixture(t, Options{}, xyzSource, src)
	res := f.analyze(t, "test/Holder")[0]

	xyzField := ref.Field("test/Holder", "xyz", "cap/Xyz", true)
	lonelyField := ref.Field("test/Holder", "lonely", "cap/Lonely", true)
	assert.ElementsMatch(t, []ref.Reference{xyzField, lonelyField, xyz("y")}, res.Required())
	assert.Equal(t, []ref.Reference{lonelyField}, res.Missing(f.run.Oracle()))

	assert.NotContains(t, body(t, res, "useXyz"), "fail")
	assert.Equal(t, `fail test/Holder.lonely cap/Lonely static
getstatic test/Holder.lonely cap/Lonely
pop
return`, body(t, res, "useLonely"))
}

type recorder struct {
	NopReferenceHook
	events *[]string
	name   string
}

func (r recorder) PostAnalyze() {
	*r.events = append(*r.events, "post "+r.name)
}

type recordingHook struct {
	events []string
}

func (h *recordingHook) EnterMethod(ctx *Context) {
	h.events = append(h.events, "enter "+ctx.Current().Ref.Name)
}

func (h *recordingHook) LeaveMethod(ctx *Context) {
	h.events = append(h.events, "leave "+ctx.Current().Ref.Name)
}

func (h *recordingHook) RequiredReference(_ *Context, a *UnitAnalysis) ReferenceHook {
	if len(a.hooks) > 0 {
		return nil
	}
	return recorder{events: &h.events, name: a.Ref.Name}
}

func (h *recordingHook) OptionalReference(*Context, *UnitAnalysis) ReferenceHook {
	return nil
}

func (h *recordingHook) IsDependencyCandidate(_ *Context, r ref.Reference) (bool, bool) {
	if r.Name == "x" {
		return false, true
	}
	return false, false
}

func TestAnalyze_Hooks(t *testing.T) {
	hook := &recordingHook{}
	f := newFixture(t, Options{Hooks: []any{hook}}, xyzSource, diamondSource)
	res := f.analyze(t, "test/Diamond")[0]
	assert.Equal(t, []ref.Reference{xyz("y")}, res.Required())

	assert.Equal(t, []string{
		"enter root",
		"enter left",
		"enter shared",
		"enter y",
		"leave y",
		"leave shared",
		"leave left",
		"enter right",
		"leave right",
		"leave root",
	}, hook.events[:10])

	posts := make(map[string]int)
	for _, e := range hook.events[10:] {
		if name, ok := strings.CutPrefix(e, "post "); ok {
			posts[name]++
		}
	}
	for _, name := range []string{"root", "left", "right", "shared"} {
		assert.Equal(t, 1, posts[name], name)
	}
}

func TestAnalyze_CandidateHookOrder(t *testing.T) {
	src := `unit test/Skip

func public static f (cap/Xyz)int
    load 0
    invoke virtual cap/Xyz.x ()int
    return
end
`
	f := newFixture(t, Options{Hooks: []any{&recordingHook{}}}, xyzSource, src)
	res := f.analyze(t, "test/Skip")[0]
	assert.Empty(t, res.Dependencies, "first hook answer wins")
	assert.NotContains(t, body(t, res, "f"), "fail")
}

func TestAnalyze_RequiredRoot(t *testing.T) {
	src := `unit test/Roots

func public static f (cap/Xyz)int
    load 0
    invoke virtual cap/Xyz.x ()int
    return
end
`
	f := newFixture(t, Options{RequiredRoot: func(string, *ir.Method) bool { return false }}, xyzSource, src)
	res := f.analyze(t, "test/Roots")[0]
	assert.Equal(t, []ref.Reference{xyz("x")}, res.Optional())
	assert.NotContains(t, body(t, res, "f"), "fail")
}

func TestRun_Rewrite(t *testing.T) {
	f := newFixture(t, Options{}, abcSource, simpleSource)
	f.analyze(t, "test/Simple")

	rewritten, err := f.run.Rewrite(f.program)
	require.NoError(t, err)
	require.Len(t, rewritten.Units, len(f.program.Units))
	assert.NotSame(t, f.program.Unit("cap/Abc"), rewritten.Unit("cap/Abc"))

	m, ok := rewritten.BodyOf(ref.Method("test/Simple", "testC", "(cap/Abc)string", true))
	require.True(t, ok)
	assert.Equal(t, "fail", m.Body[1].Op.String())
}
