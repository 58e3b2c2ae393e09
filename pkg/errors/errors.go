// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeStoreStateGetNotFound    Code = "store.state.get.not_found"
	CodeStoreStateUpdateConflict Code = "store.state.update.conflict"
	CodeStoreDatabaseFailure     Code = "store.database.failure"
	CodeStoreInvalidInput        Code = "store.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeOutcomeMessageMissing Code = "outcome.message.missing"

	CodeTurnInvalidInput       Code = "turn.invalid_input"
	CodeTurnFailure            Code = "turn.failure"
	CodeTurnToolBudgetExceeded Code = "turn.tool.budget_exceeded"
	CodeTurnToolTimeout        Code = "turn.tool.timeout"
	CodeTurnToolInfraFailure   Code = "turn.tool.infra.failure"
	CodeTurnSessionLocked      Code = "turn.session.locked"

	CodeDraftLockHeld       Code = "draft.lock.held"
	CodeDraftAlreadyExists  Code = "draft.lock.completed"
	CodeDraftAcquireFailure Code = "draft.lock.acquire.failure"

	CodeIdempotencyBackendFailure Code = "idempotency.backend.failure"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderUnavailable     Code = "provider.routing.all_unavailable"

	CodeCatalogKeyNotFound Code = "catalog.key.not_found"

	CodeToolNotFound       Code = "tool.registry.not_found"
	CodeToolGatingDenied   Code = "tool.gating.denied"
	CodeToolResultInvalid  Code = "tool.result.invalid"
	CodeToolExecuteFailure Code = "tool.execute.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"

	CodeSecretNotFound       Code = "secret.ref.not_found"
	CodeSecretBackendFailure Code = "secret.backend.failure"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSessionKey(value string) Attr {
	return Field("session_key", value)
}

func FieldBusinessID(value string) Attr {
	return Field("business_id", value)
}

func FieldMessageID(value string) Attr {
	return Field("message_id", value)
}

func FieldTool(value string) Attr {
	return Field("tool", value)
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	r := reason(CodeOf(err))
	return r == "conflict" || r == "held" || r == "completed"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsLocked(err error) bool {
	return reason(CodeOf(err)) == "locked"
}

func IsDenied(err error) bool {
	return reason(CodeOf(err)) == "denied"
}

func IsBudgetExceeded(err error) bool {
	return reason(CodeOf(err)) == "budget_exceeded"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

// IsInfra reports whether the error belongs to the infrastructure class:
// upstream provider failures, datastore failures, tool infra failures.
// Only this class retries, alerts, or forces a fallback template.
func IsInfra(err error) bool {
	code := CodeOf(err)
	if code == "" {
		return false
	}
	if strings.Contains(string(code), "upstream") || strings.Contains(string(code), "infra") {
		return true
	}
	return code == CodeStoreDatabaseFailure || code == CodeIdempotencyBackendFailure
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsDenied(err):
		return http.StatusForbidden
	case IsLocked(err), IsBudgetExceeded(err):
		return http.StatusTooManyRequests
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsInfra(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
