package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"support_chat/internal/domain"
	"support_chat/internal/repository"
	apperrors "support_chat/pkg/errors"
)

var validate = validator.New()

// validateInput превращает ошибки validator в ErrInvalidInput с перечнем полей
func validateInput(in any) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, strings.Join(fields, ", "))
	}
	return fmt.Errorf("%w: %v", apperrors.ErrInvalidInput, err)
}

// resolveUser ищет пользователя по первичному UUID, иначе по идентификатору агента
func resolveUser(ctx context.Context, users repository.UserRepository, ref string) (*domain.User, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return users.GetByID(ctx, id)
	}
	return users.GetByAgentID(ctx, ref)
}
