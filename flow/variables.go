package flow

import "sync"

// VariableScope 表达式查找流程变量的入口, 变量由引擎维护
type VariableScope interface {
	// LookupVariable 找不到返回 nil,false
	LookupVariable(name string) (any, bool)
}

// Variables 基于 map 的变量作用域, 可以挂一个父作用域(子流程 -> 流程 -> 引擎)
type Variables struct {
	mu     sync.RWMutex
	vars   map[string]any
	parent VariableScope
}

func NewVariables(parent VariableScope, vars map[string]any) *Variables {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Variables{vars: vars, parent: parent}
}

func (v *Variables) LookupVariable(name string) (any, bool) {
	if v == nil {
		return nil, false
	}
	v.mu.RLock()
	val, ok := v.vars[name]
	v.mu.RUnlock()
	if ok {
		return val, true
	}
	if v.parent != nil {
		return v.parent.LookupVariable(name)
	}
	return nil, false
}

func (v *Variables) SetVariable(name string, value any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.vars[name] = value
}

func (v *Variables) UnsetVariable(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.vars, name)
}
