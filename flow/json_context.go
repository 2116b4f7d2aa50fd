package flow

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// JSONContext 工作项的字段集合, 一个可以嵌套的 map[string]any
// 存储层按 JSON 序列化, 所以值只能是 JSON 能表达的类型
type JSONContext struct {
	data map[string]any
}

// NewJSONContext 从 JSON 字节创建, 空字节得到空的上下文
func NewJSONContext(b []byte) (*JSONContext, error) {
	c := &JSONContext{data: make(map[string]any)}
	if len(b) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(b, &c.data); err != nil {
		return nil, errors.WithMessage(err, "unmarshal fields failed")
	}
	if c.data == nil {
		// "null"
		c.data = make(map[string]any)
	}
	return c, nil
}

// NewJSONContextFromMap 直接引用传入的 map, 不拷贝
func NewJSONContextFromMap(m map[string]any) *JSONContext {
	if m == nil {
		m = make(map[string]any)
	}
	return &JSONContext{data: m}
}

// Has 顶层字段是否存在, 值是 nil、"" 或 false 也算存在
func (c *JSONContext) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Get 获取值，支持嵌套路径
// 例如: Get("customer", "name") 获取 customer.name
func (c *JSONContext) Get(keys ...string) (any, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	current := any(c.data)
	for _, key := range keys {
		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, exists := currentMap[key]
		if !exists {
			return nil, false
		}
		current = val
	}
	return current, true
}

// GetString 获取字符串值
func (c *JSONContext) GetString(keys ...string) (string, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt64 获取 int64 值, JSON 反序列化出来的数字是 float64
func (c *JSONContext) GetInt64(keys ...string) (int64, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// GetBool 获取布尔值
func (c *JSONContext) GetBool(keys ...string) (bool, bool) {
	val, ok := c.Get(keys...)
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// Set 设置值，支持嵌套路径, 中间路径不是 map 的会被覆盖
func (c *JSONContext) Set(keys []string, value any) error {
	if len(keys) == 0 {
		return errors.New("keys cannot be empty")
	}
	current := c.data
	for _, key := range keys[:len(keys)-1] {
		nextMap, ok := current[key].(map[string]any)
		if !ok {
			nextMap = make(map[string]any)
			current[key] = nextMap
		}
		current = nextMap
	}
	current[keys[len(keys)-1]] = value
	return nil
}

// Delete 删除指定路径的值
func (c *JSONContext) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	current := c.data
	for _, key := range keys[:len(keys)-1] {
		nextMap, ok := current[key].(map[string]any)
		if !ok {
			return
		}
		current = nextMap
	}
	delete(current, keys[len(keys)-1])
}

// Keys 顶层字段名, 按字典序
func (c *JSONContext) Keys() []string {
	keys := make([]string, 0, len(c.data))
	for k := range c.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c *JSONContext) Len() int {
	return len(c.data)
}

// ToBytes 转换为 JSON 字节
func (c *JSONContext) ToBytes() ([]byte, error) {
	return json.Marshal(c.data)
}

// ToMap 返回底层 map（注意：返回的是引用）
func (c *JSONContext) ToMap() map[string]any {
	return c.data
}

// Clone 经过一次 JSON 往返的深拷贝, 数字会变成 float64
func (c *JSONContext) Clone() (*JSONContext, error) {
	b, err := c.ToBytes()
	if err != nil {
		return nil, errors.WithMessage(err, "marshal fields failed")
	}
	return NewJSONContext(b)
}

// MarshalJSON 让 JSONContext 可以直接嵌进文档里面
func (c *JSONContext) MarshalJSON() ([]byte, error) {
	if c == nil || c.data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c.data)
}

func (c *JSONContext) UnmarshalJSON(b []byte) error {
	data := make(map[string]any)
	if err := json.Unmarshal(b, &data); err != nil {
		return err
	}
	if data == nil {
		data = make(map[string]any)
	}
	c.data = data
	return nil
}
