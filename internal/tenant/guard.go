package tenant

import (
	"fmt"
	"reflect"

	apperrors "support_chat/pkg/errors"
)

// Scoped - любая сущность, принадлежащая ровно одному тенанту
type Scoped interface {
	TenantID() string
}

// AssertBelongsToBusiness проверяет, что сущность существует и принадлежит businessID.
// Вызывается до любой мутации состояния.
func AssertBelongsToBusiness(entity Scoped, businessID string) error {
	if businessID == "" {
		return fmt.Errorf("%w: businessId is required", apperrors.ErrInvalidInput)
	}
	if isNil(entity) {
		return fmt.Errorf("%w: entity is absent", apperrors.ErrTenantMismatch)
	}
	if entity.TenantID() != businessID {
		return fmt.Errorf("%w: entity belongs to %q, not %q", apperrors.ErrTenantMismatch, entity.TenantID(), businessID)
	}
	return nil
}

// AssertAll - то же самое для набора сущностей
func AssertAll[T Scoped](entities []T, businessID string) error {
	for _, e := range entities {
		if err := AssertBelongsToBusiness(e, businessID); err != nil {
			return err
		}
	}
	return nil
}

func isNil(entity Scoped) bool {
	if entity == nil {
		return true
	}
	v := reflect.ValueOf(entity)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
