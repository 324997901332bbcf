package gerror

import (
	"errors"
	"net/http"
)

const (
	ErrCodeInternal           Code = "Internal"
	ErrCodeValidationFailed   Code = "ValidationFailed"
	ErrCodeNotFound           Code = "NotFound"
	ErrCodeAlreadyExists      Code = "AlreadyExists"
	ErrCodeTimeout            Code = "Timeout"
	ErrCodeCircularDependency Code = "CircularDependency"
	ErrCodeRuntimeFailed      Code = "RuntimeFailed"
	ErrCodeSecretNotFound     Code = "SecretNotFound"
	ErrArtifactUploadFailed   Code = "ArtifactUploadFailed"
	ErrPublishFailed          Code = "PublishFailed"
	ErrPublishGated           Code = "PublishGated"
)

// ToError locates an Error in the provided error chain and returns it if it
// matches the provided code. Otherwise, returns nil.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func NewErrInternal() Error {
	return NewError(
		"An internal error occurred",
		AudienceExternal,
		ErrCodeInternal,
		http.StatusInternalServerError,
		nil,
	)
}

func ToInternal(err error) *Error {
	return ToError(err, ErrCodeInternal)
}

func IsInternal(err error) bool {
	return ToInternal(err) != nil
}

func NewErrValidationFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeValidationFailed, http.StatusBadRequest, nil)
}

func ToValidationFailed(err error) *Error {
	return ToError(err, ErrCodeValidationFailed)
}

func IsValidationFailed(err error) bool {
	return ToValidationFailed(err) != nil
}

func NewErrNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeNotFound, http.StatusNotFound, nil)
}

func ToNotFound(err error) *Error {
	return ToError(err, ErrCodeNotFound)
}

func IsNotFound(err error) bool {
	return ToNotFound(err) != nil
}

func NewErrCircularDependency(message string, err error) Error {
	return NewError(message, AudienceExternal, ErrCodeCircularDependency, http.StatusBadRequest, err)
}

func ToCircularDependency(err error) *Error {
	return ToError(err, ErrCodeCircularDependency)
}

func IsCircularDependency(err error) bool {
	return ToCircularDependency(err) != nil
}

func NewErrRuntimeFailed(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrCodeRuntimeFailed, http.StatusInternalServerError, err)
}

func ToRuntimeFailed(err error) *Error {
	return ToError(err, ErrCodeRuntimeFailed)
}

func IsRuntimeFailed(err error) bool {
	return ToRuntimeFailed(err) != nil
}

func NewErrSecretNotFound(name string) Error {
	return NewError("Secret does not exist", AudienceExternal, ErrCodeSecretNotFound, http.StatusNotFound, nil).
		EDetail("secret_name", name)
}

func ToSecretNotFound(err error) *Error {
	return ToError(err, ErrCodeSecretNotFound)
}

func IsSecretNotFound(err error) bool {
	return ToSecretNotFound(err) != nil
}

func NewErrArtifactUploadFailed(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrArtifactUploadFailed, http.StatusInternalServerError, err)
}

func ToArtifactUploadFailed(err error) *Error {
	return ToError(err, ErrArtifactUploadFailed)
}

func IsArtifactUploadFailed(err error) bool {
	return ToArtifactUploadFailed(err) != nil
}

func NewErrPublishFailed(message string, statusCode int, err error) Error {
	return NewError(message, AudienceExternal, ErrPublishFailed, statusCode, err)
}

func ToPublishFailed(err error) *Error {
	return ToError(err, ErrPublishFailed)
}

func IsPublishFailed(err error) bool {
	return ToPublishFailed(err) != nil
}

func NewErrPublishGated(message string) Error {
	return NewError(message, AudienceExternal, ErrPublishGated, http.StatusPreconditionFailed, nil)
}

func ToPublishGated(err error) *Error {
	return ToError(err, ErrPublishGated)
}

func IsPublishGated(err error) bool {
	return ToPublishGated(err) != nil
}
