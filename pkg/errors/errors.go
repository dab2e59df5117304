package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrRepoNotFound    = errors.New("repository not registered")
	ErrRepoExists      = errors.New("repository already registered")
	ErrAliasNotFound   = errors.New("alias not found")
	ErrAliasExists     = errors.New("alias already exists")
	ErrUpdateFailed    = errors.New("source update failed")
	ErrBuildFailed     = errors.New("index build failed")
	ErrScipBuildFailed = errors.New("SCIP indexing failed")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInternal        = errors.New("internal error")
	ErrTimeout         = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Stage names the refresh step that produced a StageError.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageDetect  Stage = "detect"
	StageUpdate  Stage = "update"
	StageBuild   Stage = "build"
	StageScip    Stage = "scip"
	StageSwap    Stage = "swap"
)

// StageError records which step of a refresh cycle failed for an alias.
type StageError struct {
	Alias string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Alias, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func AtStage(alias string, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Alias: alias, Stage: stage, Err: err}
}

// StageOf reports the failing stage of err, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrRepoNotFound), errors.Is(err, ErrAliasNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRepoExists), errors.Is(err, ErrAliasExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpdateFailed), errors.Is(err, ErrBuildFailed), errors.Is(err, ErrScipBuildFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
