package conversation

import (
	"errors"
	"fmt"

	"github.com/entrepeneur4lyf/kbchat/internal/i18n"
)

// Error is a validation failure. The repository is left unchanged.
type Error struct {
	Key     string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrEmptyName           = &Error{Key: i18n.KeyEmptyName, Message: "conversation name is empty"}
	ErrLastConversation    = &Error{Key: i18n.KeyLastConversation, Message: "cannot delete the last conversation"}
	ErrUnknownConversation = &Error{Key: i18n.KeyUnknownConversation, Message: "unknown conversation"}
	ErrUnknownMessage      = &Error{Key: i18n.KeyUnknownMessage, Message: "unknown message"}
	ErrInvalidURL          = &Error{Key: i18n.KeyInvalidURL, Message: "invalid url"}
	ErrDuplicateURL        = &Error{Key: i18n.KeyDuplicateURL, Message: "duplicate url"}
	ErrContextLimit        = &Error{Key: i18n.KeyContextLimit, Message: "context item limit reached"}
	ErrInvalidLimit        = &Error{Key: i18n.KeyInvalidLimit, Message: "context item limit out of range"}
	ErrUnsupportedFile     = &Error{Key: i18n.KeyUnsupportedFile, Message: "unsupported file type"}
)

// detailed attaches format arguments for the localized message.
type detailed struct {
	base *Error
	args []any
}

func (d *detailed) Error() string {
	return fmt.Sprintf("%s %v", d.base.Message, d.args)
}

func (d *detailed) Unwrap() error {
	return d.base
}

func withArgs(base *Error, args ...any) error {
	return &detailed{base: base, args: args}
}

// Localize renders a validation error in the translator's locale. It
// reports false for errors that are not validation failures.
func Localize(err error, tr i18n.Translator) (string, bool) {
	var d *detailed
	if errors.As(err, &d) {
		return tr.T(d.base.Key, d.args...), true
	}
	var e *Error
	if errors.As(err, &e) {
		return tr.T(e.Key), true
	}
	return "", false
}
