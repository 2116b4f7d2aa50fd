// Package tests 是 simple-flow 的内部测试模块。
//
// 此包位于 internal/ 目录下，外部项目无法导入。
//
// 测试内容
//
// 这里的测试只通过 flow 包导出的 API 访问，覆盖：
//   - 谓词表达式和存储参与者串起来的完整流程
//   - 按配置打开的各种存储后端(memory、sqlite、bolt，设置 FLOW_TEST_REDIS_ADDR 之后还有 redis)
//   - 多个 worker 并发更新、取消同一个工作项
//   - JSONContext 功能测试
//
// 运行测试
//
// 在项目根目录：
//
//	go test ./internal/tests/...
//
// 带上 redis：
//
//	FLOW_TEST_REDIS_ADDR=127.0.0.1:6379 go test ./internal/tests/...
package tests
