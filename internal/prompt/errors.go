package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTemplate 是所有模板错误的公共哨兵，调用方用 errors.Is 判定是否中止本轮。
var ErrTemplate = errors.New("template error")

// ErrUnresolved 由解析器返回，表示该变量在当前快照下无值（按缺失变量处理）。
var ErrUnresolved = errors.New("variable not resolvable")

// ValidationError 表示占位符语法或 count 参数非法。
type ValidationError struct {
	Placeholder string
	Offset      int
	Reason      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid placeholder %s at offset %d: %s", e.Placeholder, e.Offset, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrTemplate }

// MissingVariableError 列出严格模式下无法解析的变量（按出现顺序去重）。
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return "unresolved template variables: " + strings.Join(e.Names, ", ")
}

func (e *MissingVariableError) Is(target error) bool { return target == ErrTemplate }

// ResolveError wraps a resolver failure other than ErrUnresolved.
type ResolveError struct {
	Name string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

func (e *ResolveError) Is(target error) bool { return target == ErrTemplate }
