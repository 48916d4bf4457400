package auth

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Credentials is the body of the register and login endpoints. Usernames end
// up in URL paths, so path and query delimiters are rejected.
type Credentials struct {
	Username string `json:"username" validate:"required,max=64,excludesall=/?#%"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ValidateCredentials checks a registration request.
func ValidateCredentials(c Credentials) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	return nil
}
