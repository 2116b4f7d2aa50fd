package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONContext_BasicOperations(t *testing.T) {
	// 创建空上下文
	ctx, err := NewJSONContext(nil)
	if err != nil {
		t.Fatalf("NewJSONContext failed: %v", err)
	}

	// 设置值
	ctx.Set([]string{"customer", "name"}, "张三")
	ctx.Set([]string{"customer", "age"}, int64(25))
	ctx.Set([]string{"customer", "vip"}, true)

	name, ok := ctx.GetString("customer", "name")
	if !ok || name != "张三" {
		t.Errorf("Expected name=张三, got %s", name)
	}

	age, ok := ctx.GetInt64("customer", "age")
	if !ok || age != 25 {
		t.Errorf("Expected age=25, got %d", age)
	}

	vip, ok := ctx.GetBool("customer", "vip")
	if !ok || !vip {
		t.Errorf("Expected vip=true, got %v", vip)
	}

	if !ctx.Has("customer") || ctx.Has("name") {
		t.Error("Has should only look at top level keys")
	}
}

func TestJSONContext_FromBytes(t *testing.T) {
	ctx, err := NewJSONContext([]byte(`{
		"order_id": 12345,
		"reviewer": "李四",
		"review": {
			"comment": "审核通过",
			"ts": 1640000000
		}
	}`))
	if err != nil {
		t.Fatalf("NewJSONContext failed: %v", err)
	}

	orderID, ok := ctx.GetInt64("order_id")
	if !ok || orderID != 12345 {
		t.Errorf("Expected order_id=12345, got %d", orderID)
	}

	comment, ok := ctx.GetString("review", "comment")
	if !ok || comment != "审核通过" {
		t.Errorf("Expected comment=审核通过, got %s", comment)
	}

	_, ok = ctx.GetString("review", "comment", "deeper")
	if ok {
		t.Error("path through a scalar should not resolve")
	}

	_, err = NewJSONContext([]byte(`[1,2]`))
	if err == nil {
		t.Error("non-object JSON should fail")
	}

	empty, err := NewJSONContext([]byte(`null`))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestJSONContext_Delete(t *testing.T) {
	ctx, _ := NewJSONContext([]byte(`{
		"field1": "value1",
		"nested": {
			"field2": "value2"
		}
	}`))

	// 删除顶层字段
	ctx.Delete("field1")
	if _, ok := ctx.GetString("field1"); ok {
		t.Error("field1 should be deleted")
	}

	// 删除嵌套字段
	ctx.Delete("nested", "field2")
	if _, ok := ctx.GetString("nested", "field2"); ok {
		t.Error("nested.field2 should be deleted")
	}

	// 路径不存在什么都不做
	ctx.Delete("nope", "x")
	assert.Equal(t, []string{"nested"}, ctx.Keys())
}

func TestJSONContext_Clone(t *testing.T) {
	original, _ := NewJSONContext([]byte(`{"name": "原始", "tags": ["a"]}`))
	cloned, err := original.Clone()
	require.NoError(t, err)

	// 修改克隆
	cloned.Set([]string{"name"}, "克隆")

	name, _ := original.GetString("name")
	if name != "原始" {
		t.Errorf("Original should not be modified, got %s", name)
	}
	clonedName, _ := cloned.GetString("name")
	if clonedName != "克隆" {
		t.Errorf("Cloned should be modified, got %s", clonedName)
	}
}

func TestJSONContext_JSON(t *testing.T) {
	ctx := NewJSONContextFromMap(map[string]any{"b": 2, "a": "x"})
	assert.Equal(t, []string{"a", "b"}, ctx.Keys())

	b, err := json.Marshal(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x","b":2}`, string(b))

	decoded := &JSONContext{}
	require.NoError(t, json.Unmarshal(b, decoded))
	v, ok := decoded.GetInt64("b")
	assert.True(t, ok)
	assert.Equal(t, int64(2), v)

	var nilCtx *JSONContext
	b, err = nilCtx.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	assert.Error(t, ctx.Set(nil, 1))
}

func TestWorkitem(t *testing.T) {
	fei := FlowExpressionID{Wfid: "wf", ExpID: "0"}

	t.Run("结果字段", func(t *testing.T) {
		wi := NewWorkitem(fei, nil)
		_, ok := wi.Result()
		assert.False(t, ok)
		assert.False(t, wi.BoolResult())

		wi.SetResult(true)
		assert.True(t, wi.BoolResult())
		assert.True(t, wi.HasField(ResultField))

		wi.SetResult("yes")
		assert.False(t, wi.BoolResult())
	})

	t.Run("零值工作项可以直接用", func(t *testing.T) {
		wi := &Workitem{Fei: fei}
		assert.False(t, wi.HasField("a"))
		wi.SetField("a", 1)
		v, ok := wi.Field("a")
		assert.True(t, ok)
		assert.Equal(t, 1, v)
		assert.Equal(t, "wf", wi.Wfid())
	})

	t.Run("深拷贝", func(t *testing.T) {
		wi := NewWorkitem(fei, map[string]any{"nested": map[string]any{"k": "v"}})
		wi.ParticipantName = "alice"
		wi.Rev = "3"
		cloned, err := wi.Clone()
		require.NoError(t, err)
		cloned.Fields.Set([]string{"nested", "k"}, "changed")

		v, _ := wi.Fields.GetString("nested", "k")
		assert.Equal(t, "v", v)
		assert.Equal(t, wi.Fei, cloned.Fei)
		assert.Equal(t, "alice", cloned.ParticipantName)
		assert.Equal(t, "3", cloned.Rev)
	})
}

func BenchmarkJSONContext_Get(b *testing.B) {
	ctx, _ := NewJSONContext([]byte(`{
		"level1": {
			"level2": {
				"level3": {
					"value": "test"
				}
			}
		}
	}`))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ctx.GetString("level1", "level2", "level3", "value")
	}
}
