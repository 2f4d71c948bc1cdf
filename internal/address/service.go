package address

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-user-service/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// userLookup resolves the local mirror row for an authenticated subject.
type userLookup interface {
	FindOrNoneBySubjectID(ctx context.Context, subjectID string) (*models.User, error)
}

// Service manages the caller's own addresses.
type Service interface {
	List(ctx context.Context, subjectID string) ([]AddressDTO, error)
	Create(ctx context.Context, subjectID string, input CreateAddressRequest) (*AddressDTO, error)
	Update(ctx context.Context, subjectID string, id uuid.UUID, input UpdateAddressRequest) (*AddressDTO, error)
	Delete(ctx context.Context, subjectID string, id uuid.UUID) error
	SetDefault(ctx context.Context, subjectID string, id uuid.UUID) (*AddressDTO, error)
}

type service struct {
	db    *gorm.DB
	users userLookup
}

// NewService builds an address service.
func NewService(db *gorm.DB, users userLookup) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db required")
	}
	if users == nil {
		return nil, fmt.Errorf("users repository required")
	}
	return &service{db: db, users: users}, nil
}

func (s *service) List(ctx context.Context, subjectID string) ([]AddressDTO, error) {
	user, err := s.owner(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	rows, err := NewRepository(s.db).ListByUser(ctx, user.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
	}
	return fromModels(rows), nil
}

func (s *service) Create(ctx context.Context, subjectID string, input CreateAddressRequest) (*AddressDTO, error) {
	user, err := s.owner(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	row := input.toModel(user.ID)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if row.IsDefault {
			if err := repo.ClearDefault(ctx, user.ID, uuid.Nil); err != nil {
				return err
			}
		}
		return repo.Create(ctx, row)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create address")
	}
	dto := FromModel(row)
	return &dto, nil
}

func (s *service) Update(ctx context.Context, subjectID string, id uuid.UUID, input UpdateAddressRequest) (*AddressDTO, error) {
	user, err := s.owner(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	var updated *models.UserAddress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		current, err := repo.FindOwned(ctx, user.ID, id)
		if err != nil {
			return err
		}
		fields := input.columns()
		if input.IsDefault != nil {
			if *input.IsDefault && !current.IsDefault {
				if err := repo.ClearDefault(ctx, user.ID, id); err != nil {
					return err
				}
			}
			fields["is_default"] = *input.IsDefault
		}
		if err := repo.Update(ctx, user.ID, id, fields); err != nil {
			return err
		}
		updated, err = repo.FindOwned(ctx, user.ID, id)
		return err
	})
	if err != nil {
		return nil, mapAddressError(err, "update address")
	}
	dto := FromModel(updated)
	return &dto, nil
}

func (s *service) Delete(ctx context.Context, subjectID string, id uuid.UUID) error {
	user, err := s.owner(ctx, subjectID)
	if err != nil {
		return err
	}
	if err := NewRepository(s.db).Delete(ctx, user.ID, id); err != nil {
		return mapAddressError(err, "delete address")
	}
	return nil
}

func (s *service) SetDefault(ctx context.Context, subjectID string, id uuid.UUID) (*AddressDTO, error) {
	user, err := s.owner(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	var updated *models.UserAddress
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := NewRepository(tx)
		if _, err := repo.FindOwned(ctx, user.ID, id); err != nil {
			return err
		}
		if err := repo.ClearDefault(ctx, user.ID, id); err != nil {
			return err
		}
		if err := repo.Update(ctx, user.ID, id, map[string]any{"is_default": true}); err != nil {
			return err
		}
		updated, err = repo.FindOwned(ctx, user.ID, id)
		return err
	})
	if err != nil {
		return nil, mapAddressError(err, "set default address")
	}
	dto := FromModel(updated)
	return &dto, nil
}

// owner resolves the caller's mirror row. A principal that was never
// synchronized has no addresses to manage.
func (s *service) owner(ctx context.Context, subjectID string) (*models.User, error) {
	user, err := s.users.FindOrNoneBySubjectID(ctx, subjectID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	if user == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return user, nil
}

func mapAddressError(err error, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "address not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
