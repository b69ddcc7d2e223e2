// Package errors defines the error taxonomy surfaced to JSON-RPC callers.
// Every kind carries a stable numeric code.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode is the JSON-RPC error code of a ServiceError.
type ErrorCode int

const (
	CodePqlDecoding          ErrorCode = -32001
	CodeExternal             ErrorCode = -32002
	CodeNoInputValue         ErrorCode = -32003
	CodeParseData            ErrorCode = -32004
	CodeUserQuery            ErrorCode = -32005
	CodePqlValidation        ErrorCode = -32006
	CodeCustomNotImplemented ErrorCode = -32007
	CodeStepNotFound         ErrorCode = -32008
	CodeMethodNotFound       ErrorCode = -32009
	CodeArgument             ErrorCode = -32010
	CodeChainValidation      ErrorCode = -32011

	// JSON-RPC 2.0 reserved codes.
	CodeParseRequest   ErrorCode = -32700
	CodeInvalidRequest ErrorCode = -32600
	CodeRPCMethod      ErrorCode = -32601
	CodeInvalidParams  ErrorCode = -32602
	CodeInternal       ErrorCode = -32603
)

var codeNames = map[ErrorCode]string{
	CodePqlDecoding:          "PqlDecodingError",
	CodeExternal:             "ExternalError",
	CodeNoInputValue:         "NoInputValue",
	CodeParseData:            "ParseDataError",
	CodeUserQuery:            "UserQueryError",
	CodePqlValidation:        "PqlValidationError",
	CodeCustomNotImplemented: "CustomMethodNotImplemented",
	CodeStepNotFound:         "StepNotFound",
	CodeMethodNotFound:       "MethodNotFound",
	CodeArgument:             "ArgumentError",
	CodeChainValidation:      "ChainValidationFailed",
	CodeParseRequest:         "ParseError",
	CodeInvalidRequest:       "InvalidRequest",
	CodeRPCMethod:            "MethodNotFound",
	CodeInvalidParams:        "InvalidParams",
	CodeInternal:             "InternalError",
}

// String returns the taxonomy name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// ServiceError is an error with a stable code and a caller-facing message.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches a ServiceError with the same code and message, so sentinels such
// as ErrDivisionByZero only match their own kind. Use HasCode to match a code.
func (e *ServiceError) Is(target error) bool {
	other, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return other.Code == e.Code && other.Message == e.Message
}

func newf(code ErrorCode, err error, format string, args ...interface{}) *ServiceError {
	return &ServiceError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func PqlDecoding(format string, args ...interface{}) *ServiceError {
	return newf(CodePqlDecoding, nil, format, args...)
}

func External(err error, format string, args ...interface{}) *ServiceError {
	return newf(CodeExternal, err, format, args...)
}

func NoInputValue(format string, args ...interface{}) *ServiceError {
	return newf(CodeNoInputValue, nil, format, args...)
}

func ParseData(err error, format string, args ...interface{}) *ServiceError {
	return newf(CodeParseData, err, format, args...)
}

func UserQuery(err error, format string, args ...interface{}) *ServiceError {
	return newf(CodeUserQuery, err, format, args...)
}

func PqlValidation(format string, args ...interface{}) *ServiceError {
	return newf(CodePqlValidation, nil, format, args...)
}

func CustomNotImplemented(format string, args ...interface{}) *ServiceError {
	return newf(CodeCustomNotImplemented, nil, format, args...)
}

func StepNotFound(format string, args ...interface{}) *ServiceError {
	return newf(CodeStepNotFound, nil, format, args...)
}

func MethodNotFound(format string, args ...interface{}) *ServiceError {
	return newf(CodeMethodNotFound, nil, format, args...)
}

func Argument(format string, args ...interface{}) *ServiceError {
	return newf(CodeArgument, nil, format, args...)
}

func ChainValidation(format string, args ...interface{}) *ServiceError {
	return newf(CodeChainValidation, nil, format, args...)
}

func Internal(err error, message string) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, Err: err}
}

// ErrDivisionByZero is the arithmetic failure raised by math steps.
var ErrDivisionByZero = &ServiceError{Code: CodeArgument, Message: "division by zero"}

// GetServiceError extracts the first ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasCode reports whether err carries a ServiceError with the given code.
func HasCode(err error, code ErrorCode) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
