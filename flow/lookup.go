package flow

import (
	"fmt"
	"strings"
)

// Attributes 表达式定义上的属性
// key 统一成 '-' 分隔, field_value 和 field-value 是同一个属性
type Attributes map[string]any

// NormalizeAttributes 规范化属性名, 返回新的 map
func NormalizeAttributes(raw map[string]any) Attributes {
	ret := make(Attributes, len(raw))
	for k, v := range raw {
		ret[normalizeAttributeName(k)] = v
	}
	return ret
}

func normalizeAttributeName(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// LookupAttributeName 按简写组的顺序找第一个存在的属性, 返回命中的属性名
// names 是 {field, f} 这样的简写组, suffix 不为空时依次尝试 name-suffix
// 找不到返回 "",false, 不会报错
func LookupAttributeName(attrs Attributes, names []string, suffix string) (string, bool) {
	for _, name := range names {
		if suffix != "" {
			name = name + "-" + suffix
		}
		if v, ok := attrs[name]; ok && v != nil {
			return name, true
		}
	}
	return "", false
}

// attributeLookup 一次求值用到的全部输入, 不保存状态
type attributeLookup struct {
	attrs     Attributes
	workitem  *Workitem
	variables VariableScope
}

// stringAttribute 属性值转成字符串, 再做 ${...} 替换
func (l attributeLookup) stringAttribute(name string) (string, bool) {
	v, ok := l.attrs[name]
	if !ok || v == nil {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		s = fmt.Sprint(v)
	}
	return l.substitute(s), true
}

// attribute 字面量属性, 字符串会做 ${...} 替换, 其他类型原样返回
func (l attributeLookup) attribute(name string) (any, bool) {
	v, ok := l.attrs[name]
	if !ok || v == nil {
		return nil, false
	}
	if s, isString := v.(string); isString {
		return l.substitute(s), true
	}
	return v, true
}

// doLookup 第一个命中的属性的值(字符串)
func (l attributeLookup) doLookup(suffix string, names []string) (string, bool) {
	name, ok := LookupAttributeName(l.attrs, names, suffix)
	if !ok {
		return "", false
	}
	return l.stringAttribute(name)
}

// lookupField 字段名, {field, f}
func (l attributeLookup) lookupField(suffix string) (string, bool) {
	return l.doLookup(suffix, fieldAttributeNames)
}

// lookupVar 变量名, {variable, var, v}
func (l attributeLookup) lookupVar(suffix string) (string, bool) {
	return l.doLookup(suffix, variableAttributeNames)
}

func (l attributeLookup) lookupFieldValue(suffix string) (any, bool) {
	f, ok := l.lookupField(suffix)
	if !ok {
		return nil, false
	}
	return l.fieldValue(f)
}

func (l attributeLookup) lookupVarValue(suffix string) (any, bool) {
	v, ok := l.lookupVar(suffix)
	if !ok {
		return nil, false
	}
	return l.variableValue(v)
}

// lookupVariableOrFieldValue 不带后缀的 variable 优先, 然后是 field
func (l attributeLookup) lookupVariableOrFieldValue() (any, bool) {
	if v, ok := l.lookupVarValue(""); ok {
		return v, true
	}
	return l.lookupFieldValue("")
}

// lookupValue 比较表达式的操作数
//
//	prefix 为空: field-value -> variable-value -> value
//	prefix=other: other-field-value -> other-field -> other-variable-value -> other-variable -> other-value
//
// 每一段都展开简写(f, var, v, val), 值为 nil 当作没有找到
// field-value 指向的字段不存在时继续找 variable-value 和 value, 不会停在第一个配置的属性上
func (l attributeLookup) lookupValue(prefix string) (any, bool) {
	fieldNames := withPrefix(prefix, fieldAttributeNames)
	for _, suffix := range operandSuffixes(prefix) {
		if name, ok := l.doLookup(suffix, fieldNames); ok {
			if v, ok := l.fieldValue(name); ok {
				return v, true
			}
		}
	}
	variableNames := withPrefix(prefix, variableAttributeNames)
	for _, suffix := range operandSuffixes(prefix) {
		if name, ok := l.doLookup(suffix, variableNames); ok {
			if v, ok := l.variableValue(name); ok {
				return v, true
			}
		}
	}
	for _, name := range withPrefix(prefix, valueAttributeNames) {
		if v, ok := l.attribute(name); ok {
			return v, true
		}
	}
	return nil, false
}

// operandSuffixes field/variable 后面可以接的后缀
// 没有 prefix 时只认 -value/-val, 裸的 field/variable 留给兜底值
func operandSuffixes(prefix string) []string {
	ret := append([]string{}, valueAttributeNames...)
	if prefix != "" {
		ret = append(ret, "")
	}
	return ret
}

func withPrefix(prefix string, names []string) []string {
	if prefix == "" {
		return names
	}
	ret := make([]string, 0, len(names))
	for _, name := range names {
		ret = append(ret, prefix+"-"+name)
	}
	return ret
}

func (l attributeLookup) fieldValue(name string) (any, bool) {
	if l.workitem == nil {
		return nil, false
	}
	v, ok := l.workitem.Field(name)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (l attributeLookup) variableValue(name string) (any, bool) {
	if l.variables == nil {
		return nil, false
	}
	v, ok := l.variables.LookupVariable(name)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// substitute 替换 ${f:name} ${v:name} ${name}, 找不到的替换成空串
// 没有闭合的 ${ 原样保留
func (l attributeLookup) substitute(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var result strings.Builder
	result.Grow(len(s))
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "${")
		if idx == -1 {
			result.WriteString(s[i:])
			break
		}
		result.WriteString(s[i : i+idx])
		start := i + idx + 2
		end := strings.Index(s[start:], "}")
		if end == -1 {
			result.WriteString(s[i+idx:])
			break
		}
		result.WriteString(l.resolveReference(s[start : start+end]))
		i = start + end + 1
	}
	return result.String()
}

func (l attributeLookup) resolveReference(ref string) string {
	var (
		v  any
		ok bool
	)
	switch {
	case strings.HasPrefix(ref, "f:"):
		v, ok = l.fieldValue(ref[2:])
	case strings.HasPrefix(ref, "field:"):
		v, ok = l.fieldValue(ref[6:])
	case strings.HasPrefix(ref, "v:"):
		v, ok = l.variableValue(ref[2:])
	case strings.HasPrefix(ref, "var:"):
		v, ok = l.variableValue(ref[4:])
	default:
		v, ok = l.variableValue(ref)
	}
	if !ok {
		return ""
	}
	if s, isString := v.(string); isString {
		return s
	}
	return fmt.Sprint(v)
}
