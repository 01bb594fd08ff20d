// Package errs provides coded errors shared by the bridge packages.
//
// Codes are dot-separated; the last segment is the reason and drives the
// Is* helpers.
package errs

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
type Code string

const (
	CodeConfigTokenInvalid     Code = "config.token.invalid"
	CodeConfigDocumentRead     Code = "config.document.read.failure"
	CodeConfigDocumentMissing  Code = "config.document.not_found"
	CodeConfigDocumentWrite    Code = "config.document.write.failure"
	CodeConfigDocumentFormat   Code = "config.document.invalid_format"
	CodeConfigSettingsInvalid  Code = "config.settings.invalid_value"
	CodeConfigPresenceInvalid  Code = "config.presence.invalid"
	CodeChatConnectFailure     Code = "chat.connect.failure"
	CodeChatNotConnected       Code = "chat.client.not_connected"
	CodeChatBackendFailure     Code = "chat.backend.failure"
	CodeRelaySendFailure       Code = "relay.send.failure"
	CodeRelayQueueOverflow     Code = "relay.queue.overflow"
	CodeRotationStepFailure    Code = "rotation.step.failure"
	CodeRotationShuttingDown   Code = "rotation.shutting_down"
	CodeRotationChannelUnknown Code = "rotation.channel.not_found"
	CodeRotationTicketNotFound Code = "rotation.ticket.not_found"
	CodeRotationTicketTerminal Code = "rotation.ticket.conflict"
	CodeRotationInProgress     Code = "rotation.channel.conflict"
	CodeStoreDatabaseFailure   Code = "store.database.failure"
	CodeStoreDatabaseMissing   Code = "store.database.not_found"
	CodeStoreSchemaMismatch    Code = "store.schema.conflict"
	CodeProcessStartFailure    Code = "process.start.failure"
	CodeProcessNotRunning      Code = "process.stdin.not_running"
	CodeProcessWriteFailure    Code = "process.stdin.failure"
	CodeOperatorRequestInvalid Code = "operator.request.invalid_input"
	CodeOperatorServeFailure   Code = "operator.serve.failure"
	CodeInternalFailure        Code = "internal.failure"
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

func FieldChannelID(value string) Attr {
	return Field("channel_id", value)
}

func FieldTicketID(value string) Attr {
	return Field("ticket_id", value)
}

func FieldStep(value string) Attr {
	return Field("step", value)
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

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	switch code := oopsErr.Code().(type) {
	case Code:
		return code
	case string:
		return Code(code)
	default:
		return Code(fmt.Sprintf("%v", code))
	}
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
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
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
