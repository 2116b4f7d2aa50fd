package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAttributeName(t *testing.T) {
	t.Run("按简写组顺序先命中的优先", func(t *testing.T) {
		attrs := Attributes{"f": "b", "field": "a"}
		name, ok := LookupAttributeName(attrs, fieldAttributeNames, "")
		require.True(t, ok)
		assert.Equal(t, "field", name)
	})

	t.Run("带后缀", func(t *testing.T) {
		attrs := Attributes{"var-value": "x", "v-value": "y"}
		name, ok := LookupAttributeName(attrs, variableAttributeNames, "value")
		require.True(t, ok)
		assert.Equal(t, "var-value", name)
	})

	t.Run("不带后缀的属性不会被后缀查找命中", func(t *testing.T) {
		attrs := Attributes{"field": "a"}
		_, ok := LookupAttributeName(attrs, fieldAttributeNames, "value")
		assert.False(t, ok)
	})

	t.Run("找不到不报错", func(t *testing.T) {
		_, ok := LookupAttributeName(nil, valueAttributeNames, "")
		assert.False(t, ok)
	})

	t.Run("值为nil当作不存在", func(t *testing.T) {
		attrs := Attributes{"value": nil, "val": 3}
		name, ok := LookupAttributeName(attrs, valueAttributeNames, "")
		require.True(t, ok)
		assert.Equal(t, "val", name)
	})
}

func TestNormalizeAttributes(t *testing.T) {
	attrs := NormalizeAttributes(map[string]any{
		"field_value":   "phone",
		"other-value":   "1",
		"field_match":   "^c",
		"other_f_value": "x",
	})
	assert.Equal(t, Attributes{
		"field-value":   "phone",
		"other-value":   "1",
		"field-match":   "^c",
		"other-f-value": "x",
	}, attrs)
}

func TestAttributeLookup_LookupValue(t *testing.T) {
	fei := FlowExpressionID{Wfid: "wf1", ExpID: "0_0"}
	newLookup := func(attrs map[string]any, fields map[string]any, vars map[string]any) attributeLookup {
		return attributeLookup{
			attrs:     NormalizeAttributes(attrs),
			workitem:  NewWorkitem(fei, fields),
			variables: NewVariables(nil, vars),
		}
	}

	t.Run("字段优先于变量和字面量", func(t *testing.T) {
		l := newLookup(
			map[string]any{"field-value": "phone", "variable-value": "v", "value": "literal"},
			map[string]any{"phone": "123"},
			map[string]any{"v": "var"},
		)
		v, ok := l.lookupValue("")
		require.True(t, ok)
		assert.Equal(t, "123", v)
	})

	t.Run("字段不存在时用变量", func(t *testing.T) {
		l := newLookup(
			map[string]any{"f-value": "missing", "var-value": "v", "value": "literal"},
			nil,
			map[string]any{"v": "var"},
		)
		v, ok := l.lookupValue("")
		require.True(t, ok)
		assert.Equal(t, "var", v)
	})

	t.Run("最后用字面量", func(t *testing.T) {
		l := newLookup(map[string]any{"val": int64(7)}, nil, nil)
		v, ok := l.lookupValue("")
		require.True(t, ok)
		assert.Equal(t, int64(7), v)
	})

	t.Run("false也是找到了", func(t *testing.T) {
		l := newLookup(map[string]any{"field-value": "flag"}, map[string]any{"flag": false}, nil)
		v, ok := l.lookupValue("")
		require.True(t, ok)
		assert.Equal(t, false, v)
	})

	t.Run("other前缀", func(t *testing.T) {
		l := newLookup(
			map[string]any{"other-field": "b", "other-value": "literal"},
			map[string]any{"b": "B"},
			nil,
		)
		v, ok := l.lookupValue(attributePrefixOther)
		require.True(t, ok)
		assert.Equal(t, "B", v)
	})

	t.Run("other前缀的变量", func(t *testing.T) {
		l := newLookup(map[string]any{"other-var": "x"}, nil, map[string]any{"x": 1.5})
		v, ok := l.lookupValue(attributePrefixOther)
		require.True(t, ok)
		assert.Equal(t, 1.5, v)
	})

	t.Run("不带前缀时裸的field不算操作数", func(t *testing.T) {
		l := newLookup(map[string]any{"field": "a"}, map[string]any{"a": "A"}, nil)
		_, ok := l.lookupValue("")
		assert.False(t, ok)
	})

	t.Run("兜底值变量优先", func(t *testing.T) {
		l := newLookup(
			map[string]any{"field": "a", "variable": "x"},
			map[string]any{"a": "field"},
			map[string]any{"x": "variable"},
		)
		v, ok := l.lookupVariableOrFieldValue()
		require.True(t, ok)
		assert.Equal(t, "variable", v)
	})
}

func TestAttributeLookup_Substitute(t *testing.T) {
	l := attributeLookup{
		workitem:  NewWorkitem(FlowExpressionID{Wfid: "wf1", ExpID: "0"}, map[string]any{"name": "Dupont", "age": float64(42)}),
		variables: NewVariables(nil, map[string]any{"city": "Paris"}),
	}
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"没有占位符", "plain", "plain"},
		{"字段", "${f:name}", "Dupont"},
		{"字段全称", "${field:name}", "Dupont"},
		{"变量", "${v:city}", "Paris"},
		{"变量全称", "${var:city}", "Paris"},
		{"裸名字是变量", "in ${city}!", "in Paris!"},
		{"数字", "${f:age}", "42"},
		{"找不到替换成空串", "[${f:nope}]", "[]"},
		{"多个占位符", "${f:name}/${v:city}", "Dupont/Paris"},
		{"没有闭合原样保留", "a ${f:name", "a ${f:name"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, l.substitute(c.in))
		})
	}
}

func TestVariables(t *testing.T) {
	parent := NewVariables(nil, map[string]any{"a": 1, "b": 2})
	child := NewVariables(parent, map[string]any{"a": 10})

	v, ok := child.LookupVariable("a")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	v, ok = child.LookupVariable("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	child.SetVariable("c", "x")
	v, ok = child.LookupVariable("c")
	require.True(t, ok)
	assert.Equal(t, "x", v)

	child.UnsetVariable("a")
	v, _ = child.LookupVariable("a")
	assert.Equal(t, 1, v)

	_, ok = child.LookupVariable("nope")
	assert.False(t, ok)

	var nilScope *Variables
	_, ok = nilScope.LookupVariable("a")
	assert.False(t, ok)
}
