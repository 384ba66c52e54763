package core

import (
	"errors"
	"fmt"
)

// DomainError 是领域层的统一错误类型。
//
// 设计原则：
//   - 所有领域层错误都使用此类型
//   - 提供错误代码（Code）和消息（Message）
//   - 支持错误检查函数（IsXXX），兼容 errors.As 的包装链
//
// 使用场景：
//   - 特征编码：UNKNOWN_CATEGORY, MISSING_FEATURE
//   - 模型打分：SCORING_FAILURE
//   - 结果聚合：INVALID_NUMERIC
//   - 启动加载：ARTIFACT_LOAD_FAILURE
type DomainError struct {
	Code    string // 错误代码（如 "UNKNOWN_CATEGORY"）
	Message string // 错误消息
	Module  string // 模块名称（如 "feature", "model"）
	Field   string // 关联字段（可选，如 "bmi"）
	Err     error  // 底层错误（可选）
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is 按 Module + Code 比较，便于与哨兵错误做 errors.Is 判断。
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code && (t.Module == "" || e.Module == t.Module)
}

// IsDomainError 检查错误（含包装链）是否为 DomainError 类型
func IsDomainError(err error) bool {
	return GetDomainError(err) != nil
}

// GetDomainError 获取 DomainError，如果不是则返回 nil
func GetDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return nil
}

// NewDomainError 创建新的领域错误
func NewDomainError(module, code, message string) *DomainError {
	return &DomainError{
		Module:  module,
		Code:    code,
		Message: message,
	}
}

// 错误代码常量
const (
	ErrorCodeUnknownCategory     = "UNKNOWN_CATEGORY"      // 类别不在训练词表内
	ErrorCodeMissingFeature      = "MISSING_FEATURE"       // 必填字段缺失或类型错误
	ErrorCodeScoringFailure      = "SCORING_FAILURE"       // 模型无法处理特征向量
	ErrorCodeInvalidNumeric      = "INVALID_NUMERIC"       // 聚合时出现 NaN/Inf
	ErrorCodeArtifactLoadFailure = "ARTIFACT_LOAD_FAILURE" // 启动时制品加载失败
	ErrorCodeInvalidInput        = "INVALID_INPUT"         // 准入规则不通过
	ErrorCodeNotFound            = "NOT_FOUND"             // 资源不存在
	ErrorCodeNotSupported        = "NOT_SUPPORTED"         // 操作不支持
)

// 模块名称常量
const (
	ModuleStore    = "store"    // 存储模块
	ModuleFeature  = "feature"  // 特征模块
	ModuleModel    = "model"    // 模型模块
	ModulePredict  = "predict"  // 预测服务模块
	ModuleArtifact = "artifact" // 制品模块
	ModuleService  = "service"  // 远程模型服务模块
)

// UnknownCategoryError 返回未知类别错误，消息中包含字段名和取值。
func UnknownCategoryError(field, value string) *DomainError {
	return &DomainError{
		Module:  ModuleFeature,
		Code:    ErrorCodeUnknownCategory,
		Field:   field,
		Message: fmt.Sprintf("unknown category %q for field %q", value, field),
	}
}

// MissingFeatureError 返回字段缺失错误。
func MissingFeatureError(field string) *DomainError {
	return &DomainError{
		Module:  ModuleFeature,
		Code:    ErrorCodeMissingFeature,
		Field:   field,
		Message: fmt.Sprintf("missing required feature %q", field),
	}
}

// ScoringFailureError 返回模型打分失败错误。
func ScoringFailureError(modelName string, err error) *DomainError {
	return &DomainError{
		Module:  ModuleModel,
		Code:    ErrorCodeScoringFailure,
		Message: fmt.Sprintf("model %q failed to score feature vector", modelName),
		Err:     err,
	}
}

// InvalidNumericError 返回非法数值错误。
func InvalidNumericError(what string, value float64) *DomainError {
	return &DomainError{
		Module:  ModulePredict,
		Code:    ErrorCodeInvalidNumeric,
		Message: fmt.Sprintf("invalid numeric %s: %v", what, value),
	}
}

// ArtifactLoadError 返回制品加载失败错误。
func ArtifactLoadError(key string, err error) *DomainError {
	return &DomainError{
		Module:  ModuleArtifact,
		Code:    ErrorCodeArtifactLoadFailure,
		Field:   key,
		Message: fmt.Sprintf("load artifact %q", key),
		Err:     err,
	}
}

func hasCode(err error, code string) bool {
	if domainErr := GetDomainError(err); domainErr != nil {
		return domainErr.Code == code
	}
	return false
}

// IsUnknownCategory 检查错误是否为 UNKNOWN_CATEGORY
func IsUnknownCategory(err error) bool { return hasCode(err, ErrorCodeUnknownCategory) }

// IsMissingFeature 检查错误是否为 MISSING_FEATURE
func IsMissingFeature(err error) bool { return hasCode(err, ErrorCodeMissingFeature) }

// IsScoringFailure 检查错误是否为 SCORING_FAILURE
func IsScoringFailure(err error) bool { return hasCode(err, ErrorCodeScoringFailure) }

// IsInvalidNumeric 检查错误是否为 INVALID_NUMERIC
func IsInvalidNumeric(err error) bool { return hasCode(err, ErrorCodeInvalidNumeric) }

// IsArtifactLoadFailure 检查错误是否为 ARTIFACT_LOAD_FAILURE
func IsArtifactLoadFailure(err error) bool { return hasCode(err, ErrorCodeArtifactLoadFailure) }

// IsInvalidInput 检查错误是否为 INVALID_INPUT
func IsInvalidInput(err error) bool { return hasCode(err, ErrorCodeInvalidInput) }

// IsNotFound 检查错误是否为 NOT_FOUND
func IsNotFound(err error) bool { return hasCode(err, ErrorCodeNotFound) }

// IsNotSupported 检查错误是否为 NOT_SUPPORTED
func IsNotSupported(err error) bool { return hasCode(err, ErrorCodeNotSupported) }
