package infra

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tastamat/fandomon/internal/domain"
)

var settingsValidator *validator.Validate

func init() {
	settingsValidator = validator.New()
}

// ValidateSettings checks field constraints and wraps failures in
// domain.ErrInvalidSetting.
func ValidateSettings(s domain.Settings) error {
	err := settingsValidator.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidSetting, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", domain.ErrInvalidSetting, strings.Join(msgs, "; "))
}
