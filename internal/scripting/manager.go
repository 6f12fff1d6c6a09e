package scripting

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
	"go.uber.org/zap"
)

// CombatantInfo is a snapshot of a battle participant passed to Lua.
type CombatantInfo struct {
	UID    string
	Name   string
	Side   string
	Status string
	HP     int
	MaxHP  int
	AC     int
	Morale int
	Level  int
	Speed  int
	Attack int
}

// PredicateEnv is the evaluation context exposed to a predicate as globals:
// owner, target (nil when absent), participants, round, damage,
// is_owner_action and phase.
type PredicateEnv struct {
	Owner         *CombatantInfo
	Target        *CombatantInfo
	Participants  []*CombatantInfo
	Round         int
	Damage        int
	IsOwnerAction bool
	Phase         string
}

// Manager compiles and runs trigger predicates. Shared helper functions are
// loaded once from a library directory and replayed into a fresh VM for
// every evaluation, so no Lua state is ever shared between goroutines.
//
// Manager is safe for concurrent use.
type Manager struct {
	mu        sync.RWMutex
	library   []*lua.FunctionProto
	compiled  map[string]*lua.FunctionProto
	instLimit int
	logger    *zap.Logger
}

// NewManager creates a Manager with an empty library.
//
// Precondition: logger must be non-nil.
// Postcondition: Returns a non-nil Manager.
func NewManager(instLimit int, logger *zap.Logger) *Manager {
	if logger == nil {
		panic("scripting: NewManager requires a logger")
	}
	return &Manager{
		compiled:  make(map[string]*lua.FunctionProto),
		instLimit: instLimit,
		logger:    logger,
	}
}

// LoadLibrary compiles every *.lua file in dir in lexicographic order and
// appends them to the library replayed before each predicate.
//
// Precondition: dir must be a readable directory.
// Postcondition: On error the library is unchanged.
func (m *Manager) LoadLibrary(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("scripting: reading library dir %q: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	protos := make([]*lua.FunctionProto, 0, len(files))
	for _, path := range files {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("scripting: reading %q: %w", path, err)
		}
		proto, err := compile(path, string(src))
		if err != nil {
			return err
		}
		protos = append(protos, proto)
	}

	m.mu.Lock()
	m.library = append(m.library, protos...)
	m.mu.Unlock()
	m.logger.Info("scripting: library loaded", zap.String("dir", dir), zap.Int("files", len(files)))
	return nil
}

// Compile checks that src is a valid predicate and caches its bytecode.
func (m *Manager) Compile(src string) error {
	_, err := m.proto(src)
	return err
}

// EvalPredicate runs src with env bound as globals and returns the truthiness
// of its first return value. A predicate body without "return" is treated
// as an expression, so "owner.hp < 10" and "return owner.hp < 10" are equal.
//
// Postcondition: Returns an error for compile failures, runtime errors and
// exhausted instruction budgets; the boolean is false in every error case.
func (m *Manager) EvalPredicate(ctx context.Context, src string, env PredicateEnv) (bool, error) {
	proto, err := m.proto(src)
	if err != nil {
		return false, err
	}

	L := NewSandboxedState()
	defer L.Close()
	RegisterModules(L)

	m.mu.RLock()
	library := m.library
	m.mu.RUnlock()
	for _, lib := range library {
		L.Push(L.NewFunctionFromProto(lib))
		if err := L.PCall(0, lua.MultRet, nil); err != nil {
			return false, fmt.Errorf("scripting: running library %s: %w", lib.SourceName, err)
		}
	}

	bind(L, env)
	cancel := Limit(ctx, L, m.instLimit)
	defer cancel()

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("scripting: predicate failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)
	return lua.LVAsBool(ret), nil
}

func (m *Manager) proto(src string) (*lua.FunctionProto, error) {
	m.mu.RLock()
	p, ok := m.compiled[src]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	body := src
	if !strings.Contains(src, "return") {
		body = "return " + src
	}
	p, err := compile("predicate", body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.compiled[src] = p
	m.mu.Unlock()
	return p, nil
}

func compile(name, src string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		return nil, fmt.Errorf("scripting: parsing %s: %w", name, err)
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, fmt.Errorf("scripting: compiling %s: %w", name, err)
	}
	return proto, nil
}

func bind(L *lua.LState, env PredicateEnv) {
	L.SetGlobal("owner", combatantTable(L, env.Owner))
	L.SetGlobal("target", combatantTable(L, env.Target))
	list := L.NewTable()
	for _, c := range env.Participants {
		list.Append(combatantTable(L, c))
	}
	L.SetGlobal("participants", list)
	L.SetGlobal("round", lua.LNumber(env.Round))
	L.SetGlobal("damage", lua.LNumber(env.Damage))
	L.SetGlobal("is_owner_action", lua.LBool(env.IsOwnerAction))
	L.SetGlobal("phase", lua.LString(env.Phase))
}

func combatantTable(L *lua.LState, c *CombatantInfo) lua.LValue {
	if c == nil {
		return lua.LNil
	}
	t := L.NewTable()
	L.SetField(t, "id", lua.LString(c.UID))
	L.SetField(t, "name", lua.LString(c.Name))
	L.SetField(t, "side", lua.LString(c.Side))
	L.SetField(t, "status", lua.LString(c.Status))
	L.SetField(t, "hp", lua.LNumber(c.HP))
	L.SetField(t, "max_hp", lua.LNumber(c.MaxHP))
	L.SetField(t, "ac", lua.LNumber(c.AC))
	L.SetField(t, "morale", lua.LNumber(c.Morale))
	L.SetField(t, "level", lua.LNumber(c.Level))
	L.SetField(t, "speed", lua.LNumber(c.Speed))
	L.SetField(t, "attack", lua.LNumber(c.Attack))
	return t
}
