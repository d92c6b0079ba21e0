package audio

import (
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/cadenza/internal/shared"
)

var (
	// ErrConflict is wrapped by every [ConflictError].
	ErrConflict = fmt.Errorf("audio %w", shared.ErrOwnershipConflict)

	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no microphone found")
	ErrUnsupported      = errors.New("audio capture unsupported")
	ErrInvalidOwner     = fmt.Errorf("%w: audio owner must not be empty", shared.ErrInvalidInput)
	ErrNotRecording     = errors.New("recorder is not running")
)

// Resource names used in conflict errors and status output.
const (
	ResourceAudioContext = "audio context"
	ResourceMicrophone   = "microphone"
)

// ConflictError reports an acquire attempt on a resource another owner holds.
type ConflictError struct {
	Resource  string
	Holder    string
	Requester string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s is in use by %q (requested by %q)", e.Resource, e.Holder, e.Requester)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// PlatformError is a named failure raised by the platform audio stack.
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// DeviceError is a classified microphone failure with a message fit for the user.
type DeviceError struct {
	Kind    error
	Message string
	Err     error
}

func (e *DeviceError) Error() string { return e.Message }

func (e *DeviceError) Unwrap() []error { return []error{e.Kind, e.Err} }

var deviceMessages = map[error]string{
	ErrPermissionDenied: "Microphone access was denied. Allow microphone access in your system settings and try again.",
	ErrNoDevice:         "No microphone was found. Connect a microphone and try again.",
	ErrUnsupported:      "Audio recording is not supported on this device.",
}

// classify turns a raw platform failure into a [DeviceError], or returns nil when the failure
// does not match a known cause.
func classify(err error) *DeviceError {
	kind := kindOf(err)
	if kind == nil {
		return nil
	}
	return &DeviceError{Kind: kind, Message: deviceMessages[kind], Err: err}
}

func kindOf(err error) error {
	for _, k := range []error{ErrPermissionDenied, ErrNoDevice, ErrUnsupported} {
		if errors.Is(err, k) {
			return k
		}
	}

	var pe *PlatformError
	if errors.As(err, &pe) {
		switch pe.Name {
		case "NotAllowedError", "PermissionDeniedError", "SecurityError":
			return ErrPermissionDenied
		case "NotFoundError", "DevicesNotFoundError", "OverconstrainedError":
			return ErrNoDevice
		case "NotSupportedError", "TypeError":
			return ErrUnsupported
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return ErrPermissionDenied
	case strings.Contains(msg, "no device"), strings.Contains(msg, "device not found"):
		return ErrNoDevice
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "unsupported"):
		return ErrUnsupported
	}
	return nil
}
