// Package errcode defines the coded errors returned by ADCM operations.
//
// Every failure a caller can act on carries a Code such as CLUSTER_CONFLICT.
// Codes belong to one Kind of the error taxonomy; the kind tells callers
// whether to fix the input, retry, or give up.
package errcode

import (
	"errors"
	"fmt"
)

// Code names a specific failure
type Code string

// Kind groups codes into the error taxonomy
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not-found"
	KindConflict   Kind = "conflict"
	KindState      Kind = "state"
	KindExternal   Kind = "external"
	KindInternal   Kind = "internal"
)

// Not found
const (
	ClusterNotFound     Code = "CLUSTER_NOT_FOUND"
	ServiceNotFound     Code = "SERVICE_NOT_FOUND"
	ComponentNotFound   Code = "COMPONENT_NOT_FOUND"
	HostNotFound        Code = "HOST_NOT_FOUND"
	ProviderNotFound    Code = "PROVIDER_NOT_FOUND"
	PrototypeNotFound   Code = "PROTOTYPE_NOT_FOUND"
	ConfigNotFound      Code = "CONFIG_NOT_FOUND"
	ActionNotFound      Code = "ACTION_NOT_FOUND"
	TaskNotFound        Code = "TASK_NOT_FOUND"
	JobNotFound         Code = "JOB_NOT_FOUND"
	BundleNotFound      Code = "BUNDLE_NOT_FOUND"
	UpgradeNotFound     Code = "UPGRADE_NOT_FOUND"
	GroupConfigNotFound Code = "GROUP_CONFIG_NOT_FOUND"
	ObjectNotFound      Code = "OBJECT_NOT_FOUND"
)

// Conflict
const (
	ClusterConflict       Code = "CLUSTER_CONFLICT"
	ServiceConflict       Code = "SERVICE_CONFLICT"
	HostConflict          Code = "HOST_CONFLICT"
	ProviderConflict      Code = "PROVIDER_CONFLICT"
	ForeignHost           Code = "FOREIGN_HOST"
	BundleConflict        Code = "BUNDLE_CONFLICT"
	GroupConfigHostExists Code = "GROUP_CONFIG_HOST_EXISTS"
	GroupConfigConflict   Code = "GROUP_CONFIG_CONFLICT"
)

// Validation
const (
	ConfigKeyError           Code = "CONFIG_KEY_ERROR"
	ConfigValueError         Code = "CONFIG_VALUE_ERROR"
	AttributeError           Code = "ATTRIBUTE_ERROR"
	JSONError                Code = "JSON_ERROR"
	InvalidInput             Code = "INVALID_INPUT"
	ObjTypeError             Code = "OBJ_TYPE_ERROR"
	BindError                Code = "BIND_ERROR"
	ComponentConstraintError Code = "COMPONENT_CONSTRAINT_ERROR"
	InvalidConfigDefinition  Code = "INVALID_CONFIG_DEFINITION"
	GroupConfigTypeError     Code = "GROUP_CONFIG_TYPE_ERROR"
	GroupConfigHostError     Code = "GROUP_CONFIG_HOST_ERROR"
	TaskGeneratorError       Code = "TASK_GENERATOR_ERROR"
	BundleVersionError       Code = "BUNDLE_VERSION_ERROR"
	WrongName                Code = "WRONG_NAME"
)

// State
const (
	TaskError             Code = "TASK_ERROR"
	UpgradeError          Code = "UPGRADE_ERROR"
	LicenseError          Code = "LICENSE_ERROR"
	LockError             Code = "LOCK_ERROR"
	NotAllowedTermination Code = "NOT_ALLOWED_TERMINATION"
	TaskIsFailed          Code = "TASK_IS_FAILED"
	TaskIsSuccess         Code = "TASK_IS_SUCCESS"
	TaskIsAborted         Code = "TASK_IS_ABORTED"
	NoJobsRunning         Code = "NO_JOBS_RUNNING"
)

// External and internal
const (
	RunnerError   Code = "RUNNER_ERROR"
	StatusError   Code = "STATUS_ERROR"
	InternalError Code = "INTERNAL_ERROR"
)

var kinds = map[Code]Kind{
	ClusterNotFound:     KindNotFound,
	ServiceNotFound:     KindNotFound,
	ComponentNotFound:   KindNotFound,
	HostNotFound:        KindNotFound,
	ProviderNotFound:    KindNotFound,
	PrototypeNotFound:   KindNotFound,
	ConfigNotFound:      KindNotFound,
	ActionNotFound:      KindNotFound,
	TaskNotFound:        KindNotFound,
	JobNotFound:         KindNotFound,
	BundleNotFound:      KindNotFound,
	UpgradeNotFound:     KindNotFound,
	GroupConfigNotFound: KindNotFound,
	ObjectNotFound:      KindNotFound,

	ClusterConflict:       KindConflict,
	ServiceConflict:       KindConflict,
	HostConflict:          KindConflict,
	ProviderConflict:      KindConflict,
	ForeignHost:           KindConflict,
	BundleConflict:        KindConflict,
	GroupConfigHostExists: KindConflict,
	GroupConfigConflict:   KindConflict,

	ConfigKeyError:           KindValidation,
	ConfigValueError:         KindValidation,
	AttributeError:           KindValidation,
	JSONError:                KindValidation,
	InvalidInput:             KindValidation,
	ObjTypeError:             KindValidation,
	BindError:                KindValidation,
	ComponentConstraintError: KindValidation,
	InvalidConfigDefinition:  KindValidation,
	GroupConfigTypeError:     KindValidation,
	GroupConfigHostError:     KindValidation,
	TaskGeneratorError:       KindValidation,
	BundleVersionError:       KindValidation,
	WrongName:                KindValidation,

	TaskError:             KindState,
	UpgradeError:          KindState,
	LicenseError:          KindState,
	LockError:             KindState,
	NotAllowedTermination: KindState,
	TaskIsFailed:          KindState,
	TaskIsSuccess:         KindState,
	TaskIsAborted:         KindState,
	NoJobsRunning:         KindState,

	RunnerError:   KindExternal,
	StatusError:   KindExternal,
	InternalError: KindInternal,
}

// KindOf returns the taxonomy kind of a code; unknown codes are internal
func KindOf(code Code) Kind {
	if k, ok := kinds[code]; ok {
		return k
	}
	return KindInternal
}

// Error is a coded failure
type Error struct {
	Code Code
	Msg  string
}

// New creates a coded error with a formatted message
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Kind returns the taxonomy kind of the error
func (e *Error) Kind() Kind {
	return KindOf(e.Code)
}

// CodeOf extracts the code of the first coded error in the chain.
// Errors without a code report INTERNAL_ERROR; nil reports "".
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return InternalError
}

// Is reports whether err carries the given code
func Is(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// IsNotFound reports whether err is any not-found code
func IsNotFound(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind() == KindNotFound
}
