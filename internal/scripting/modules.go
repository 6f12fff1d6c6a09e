package scripting

import lua "github.com/yuin/gopher-lua"

// RegisterModules installs the engine helper table into L:
//
//	engine.ability_mod(score)   floor((score-10)/2)
//	engine.percent(value, max)  value as an integer percentage of max
//	engine.count(list, fn)      number of entries for which fn returns true
//
// Precondition: L must come from NewSandboxedState.
// Postcondition: the engine global is defined in L.
func RegisterModules(L *lua.LState) {
	engine := L.NewTable()
	L.SetField(engine, "ability_mod", L.NewFunction(luaAbilityMod))
	L.SetField(engine, "percent", L.NewFunction(luaPercent))
	L.SetField(engine, "count", L.NewFunction(luaCount))
	L.SetGlobal("engine", engine)
}

func luaAbilityMod(L *lua.LState) int {
	diff := L.CheckInt(1) - 10
	if diff < 0 {
		L.Push(lua.LNumber((diff - 1) / 2))
	} else {
		L.Push(lua.LNumber(diff / 2))
	}
	return 1
}

func luaPercent(L *lua.LState) int {
	v, m := L.CheckInt(1), L.CheckInt(2)
	if m <= 0 {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(v * 100 / m))
	return 1
}

func luaCount(L *lua.LState) int {
	list := L.CheckTable(1)
	fn := L.CheckFunction(2)
	n := 0
	list.ForEach(func(_, v lua.LValue) {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, v); err != nil {
			L.RaiseError("engine.count: %s", err.Error())
			return
		}
		if lua.LVAsBool(L.Get(-1)) {
			n++
		}
		L.Pop(1)
	})
	L.Push(lua.LNumber(n))
	return 1
}
