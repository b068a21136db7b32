package lua

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/mpataki/datasling/internal/models"
)

// API is the session behind the shell utilities.
type API interface {
	Rerun(ctx context.Context) error
	Replay(ctx context.Context, names []string) error
	ShowHistory(limit int) error
	ClearHistory() error
	Info() string
}

var errNoSession = errors.New("no session attached")

const resultTypeName = "datasling.result"

// Runtime evaluates shell input in a Lua state where every loaded result is
// a global table named after its query.
type Runtime struct {
	L   *lua.LState
	ns  *models.Namespace
	api    API
	out    io.Writer
	logger *zap.Logger

	// reserved holds the builtins and utilities a result must not shadow.
	reserved map[string]bool

	previewRows  int
	historyLimit int
}

type Option func(*Runtime)

func WithAPI(api API) Option {
	return func(r *Runtime) { r.api = api }
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithPreviewRows(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.previewRows = n
		}
	}
}

func WithHistoryLimit(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.historyLimit = n
		}
	}
}

func NewRuntime(ns *models.Namespace, out io.Writer, opts ...Option) *Runtime {
	r := &Runtime{
		L:            lua.NewState(lua.Options{SkipOpenLibs: true}),
		ns:           ns,
		out:          out,
		logger:       zap.NewNop(),
		reserved:     make(map[string]bool),
		previewRows:  10,
		historyLimit: 10,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.openSafeLibs()
	r.registerAPI()
	r.L.G.Global.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			r.reserved[string(s)] = true
		}
	})

	for _, name := range ns.Names() {
		if tbl, ok := ns.Get(name); ok {
			r.setGlobal(name, tbl)
		}
	}
	return r
}

func (r *Runtime) Close() {
	r.L.Close()
}

// openSafeLibs loads the base, table, string and math libraries without the
// file loading functions.
func (r *Runtime) openSafeLibs() {
	L := r.L
	lua.OpenBase(L)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("print", L.NewFunction(r.luaPrint))

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	mt := L.NewTypeMetatable(resultTypeName)
	L.SetField(mt, "__tostring", L.NewFunction(r.luaResultString))
}

func (r *Runtime) registerAPI() {
	L := r.L
	L.SetGlobal("run", L.NewFunction(r.luaRun))
	L.SetGlobal("historic", L.NewFunction(r.luaHistoric))
	L.SetGlobal("history", L.NewFunction(r.luaHistory))
	L.SetGlobal("clear_history", L.NewFunction(r.luaClearHistory))
	L.SetGlobal("show", L.NewFunction(r.luaShow))
	L.SetGlobal("names", L.NewFunction(r.luaNames))
	L.SetGlobal("info", L.NewFunction(r.luaInfo))
}

// Bind records tbl under name and exposes it as a global. Names of builtins
// and shell utilities stay reachable only through show(name).
func (r *Runtime) Bind(name string, tbl *models.Table) {
	r.ns.Bind(name, tbl)
	r.setGlobal(name, tbl)
}

func (r *Runtime) setGlobal(name string, tbl *models.Table) {
	if r.reserved[name] {
		r.logger.Warn("result name is reserved in the shell, use show() to view it",
			zap.String("name", name))
		return
	}
	r.L.SetGlobal(name, r.tableToLua(name, tbl))
}

// Eval runs one line of input. Expressions have their values printed;
// anything else runs as a statement.
func (r *Runtime) Eval(ctx context.Context, line string) error {
	L := r.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	fn, err := L.LoadString("return " + line)
	if err != nil {
		fn, err = L.LoadString(line)
		if err != nil {
			return err
		}
	}

	base := L.GetTop()
	L.Push(fn)
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		L.SetTop(base)
		return err
	}

	n := L.GetTop() - base
	values := make([]lua.LValue, n)
	for i := range values {
		values[i] = L.Get(base + i + 1)
	}
	L.SetTop(base)

	if n > 0 {
		fmt.Fprintln(r.out, r.join(values))
	}
	return nil
}

// Completions returns the global names starting with prefix, sorted.
func (r *Runtime) Completions(prefix string) []string {
	var out []string
	r.L.G.Global.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok && strings.HasPrefix(string(s), prefix) && !strings.HasPrefix(string(s), "_") {
			out = append(out, string(s))
		}
	})
	sort.Strings(out)
	return out
}

func (r *Runtime) join(values []lua.LValue) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = r.display(v)
	}
	return strings.Join(parts, "\t")
}

// display converts a value with tostring so __tostring metamethods apply.
func (r *Runtime) display(v lua.LValue) string {
	L := r.L
	if t, ok := v.(*lua.LTable); ok && L.GetMetatable(t) == lua.LNil && t.Len() > 0 {
		items := make([]lua.LValue, t.Len())
		for i := range items {
			items[i] = t.RawGetInt(i + 1)
		}
		return "{" + strings.ReplaceAll(r.join(items), "\t", ", ") + "}"
	}

	err := L.CallByParam(lua.P{Fn: L.GetGlobal("tostring"), NRet: 1, Protect: true}, v)
	if err != nil {
		return v.String()
	}
	s := L.Get(-1)
	L.Pop(1)
	return lua.LVAsString(s)
}

func (r *Runtime) tableToLua(name string, tbl *models.Table) *lua.LTable {
	L := r.L
	t := L.NewTable()
	L.SetField(t, "name", lua.LString(name))

	cols := L.NewTable()
	for _, c := range tbl.Columns {
		cols.Append(lua.LString(c))
	}
	L.SetField(t, "columns", cols)

	rows := L.NewTable()
	for _, row := range tbl.Rows {
		lr := L.NewTable()
		for _, cell := range row {
			lr.Append(lua.LString(cell))
		}
		rows.Append(lr)
	}
	L.SetField(t, "rows", rows)
	L.SetField(t, "count", lua.LNumber(tbl.Len()))

	L.SetMetatable(t, L.GetTypeMetatable(resultTypeName))
	return t
}

// luaToTable reads a result table back, including one the user edited.
func luaToTable(t *lua.LTable) *models.Table {
	tbl := &models.Table{}
	if cols, ok := t.RawGetString("columns").(*lua.LTable); ok {
		for i := 1; i <= cols.Len(); i++ {
			tbl.Columns = append(tbl.Columns, lua.LVAsString(cols.RawGetInt(i)))
		}
	}
	if rows, ok := t.RawGetString("rows").(*lua.LTable); ok {
		for i := 1; i <= rows.Len(); i++ {
			lr, ok := rows.RawGetInt(i).(*lua.LTable)
			if !ok {
				continue
			}
			row := make([]string, lr.Len())
			for j := range row {
				row[j] = lua.LVAsString(lr.RawGetInt(j + 1))
			}
			tbl.Rows = append(tbl.Rows, row)
		}
	}
	return tbl
}

func (r *Runtime) luaPrint(L *lua.LState) int {
	values := make([]lua.LValue, L.GetTop())
	for i := range values {
		values[i] = L.Get(i + 1)
	}
	fmt.Fprintln(r.out, r.join(values))
	return 0
}

func (r *Runtime) luaResultString(L *lua.LState) int {
	t := L.CheckTable(1)
	L.Push(lua.LString(luaToTable(t).Preview(r.previewRows)))
	return 1
}

// luaRun implements run()
func (r *Runtime) luaRun(L *lua.LState) int {
	if r.api == nil {
		L.RaiseError("%v", errNoSession)
		return 0
	}
	if err := r.api.Rerun(r.context()); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// luaHistoric implements historic(name, ...) and historic({names}).
// Without arguments every name from the loaded files is replayed.
func (r *Runtime) luaHistoric(L *lua.LState) int {
	if r.api == nil {
		L.RaiseError("%v", errNoSession)
		return 0
	}

	var names []string
	for i := 1; i <= L.GetTop(); i++ {
		switch v := L.Get(i).(type) {
		case lua.LString:
			names = append(names, string(v))
		case *lua.LTable:
			for j := 1; j <= v.Len(); j++ {
				names = append(names, lua.LVAsString(v.RawGetInt(j)))
			}
		default:
			L.ArgError(i, "expected a name or a list of names")
			return 0
		}
	}

	if err := r.api.Replay(r.context(), names); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

// luaHistory implements history(n)
func (r *Runtime) luaHistory(L *lua.LState) int {
	if r.api == nil {
		L.RaiseError("%v", errNoSession)
		return 0
	}
	limit := L.OptInt(1, r.historyLimit)
	if err := r.api.ShowHistory(limit); err != nil {
		L.RaiseError("%v", err)
	}
	return 0
}

func (r *Runtime) luaClearHistory(L *lua.LState) int {
	if r.api == nil {
		L.RaiseError("%v", errNoSession)
		return 0
	}
	if err := r.api.ClearHistory(); err != nil {
		L.RaiseError("%v", err)
	}
	fmt.Fprintln(r.out, "History cleared.")
	return 0
}

// luaShow implements show(name_or_result, n)
func (r *Runtime) luaShow(L *lua.LState) int {
	n := L.OptInt(2, r.previewRows)

	var tbl *models.Table
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		t, ok := r.ns.Get(string(v))
		if !ok {
			L.ArgError(1, fmt.Sprintf("no result named %q", string(v)))
			return 0
		}
		tbl = t
	case *lua.LTable:
		tbl = luaToTable(v)
	default:
		L.ArgError(1, "expected a result or its name")
		return 0
	}

	fmt.Fprintln(r.out, tbl.Preview(n))
	return 0
}

func (r *Runtime) luaNames(L *lua.LState) int {
	t := L.NewTable()
	for _, name := range r.ns.Names() {
		t.Append(lua.LString(name))
	}
	L.Push(t)
	return 1
}

func (r *Runtime) luaInfo(L *lua.LState) int {
	if r.api == nil {
		L.RaiseError("%v", errNoSession)
		return 0
	}
	fmt.Fprint(r.out, r.api.Info())
	return 0
}

func (r *Runtime) context() context.Context {
	if ctx := r.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
