package transform

import (
	"errors"
	"fmt"
)

// CorruptDocumentError 表示存储的文档本身无法解析。
// 损坏的文件对任何访问级别都拒绝分发，只能提示重新上传。
// 由解析层显式抛出类型化错误，而不是对错误文本做子串嗅探。
type CorruptDocumentError struct {
	Reason string
	Err    error
}

func (e *CorruptDocumentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt document: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt document: %s", e.Reason)
}

func (e *CorruptDocumentError) Unwrap() error {
	return e.Err
}

// IsCorrupt 判断错误链中是否包含文档损坏错误。
func IsCorrupt(err error) bool {
	var corrupt *CorruptDocumentError
	return errors.As(err, &corrupt)
}

// ErrUnsafeToServe 表示变换失败且调用方不具备完整访问权：
// 绝不把未加保护的私有内容发给非所有者。
var ErrUnsafeToServe = errors.New("transform failed and caller lacks full access")
