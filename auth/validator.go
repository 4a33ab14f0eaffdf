package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"trade-chat/domain"
	"trade-chat/errors"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateCommand checks the struct tags of a command and maps the first
// failing field to a sentinel error.
func ValidateCommand(cmd domain.Command) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !stderrors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	field := fieldErrors[0]
	switch field.Field() {
	case "Content":
		return fmt.Errorf("%w: content is %s", errors.ErrInvalidContent, field.Tag())
	case "SenderID", "ReceiverID", "ReaderID":
		return fmt.Errorf("%w: %s failed %s", errors.ErrInvalidParties, field.Field(), field.Tag())
	default:
		return fmt.Errorf("%w: %s failed %s", errors.ErrInvalidRequest, field.Field(), field.Tag())
	}
}

// ValidateContent rejects blank messages and messages longer than maxRunes.
// A maxRunes of zero disables the length check.
func ValidateContent(content string, maxRunes int) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is blank", errors.ErrInvalidContent)
	}
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		return fmt.Errorf("%w: content exceeds %d characters", errors.ErrInvalidContent, maxRunes)
	}
	return nil
}

// ValidateRequest checks the tags of an HTTP or websocket payload.
func ValidateRequest(request any) error {
	if err := validate.Struct(request); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}
