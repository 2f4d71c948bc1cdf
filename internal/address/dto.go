package address

import (
	"strings"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/google/uuid"
)

// AddressDTO is the snake_case shape returned by the address routes.
type AddressDTO struct {
	ID           uuid.UUID         `json:"id"`
	UserID       uuid.UUID         `json:"user_id"`
	AddressType  enums.AddressType `json:"address_type"`
	IsDefault    bool              `json:"is_default"`
	FullName     string            `json:"full_name"`
	Phone        *string           `json:"phone"`
	AddressLine1 string            `json:"address_line1"`
	AddressLine2 *string           `json:"address_line2"`
	City         string            `json:"city"`
	State        *string           `json:"state"`
	PostalCode   string            `json:"postal_code"`
	Country      string            `json:"country"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// FromModel maps a stored address to its transport shape.
func FromModel(a *models.UserAddress) AddressDTO {
	return AddressDTO{
		ID:           a.ID,
		UserID:       a.UserID,
		AddressType:  a.AddressType,
		IsDefault:    a.IsDefault,
		FullName:     a.FullName,
		Phone:        a.Phone,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromModels(rows []models.UserAddress) []AddressDTO {
	out := make([]AddressDTO, 0, len(rows))
	for i := range rows {
		out = append(out, FromModel(&rows[i]))
	}
	return out
}

// CreateAddressRequest is the body accepted by POST /profile/addresses.
type CreateAddressRequest struct {
	AddressType  string  `json:"addressType" validate:"omitempty,oneof=billing shipping both"`
	IsDefault    bool    `json:"isDefault"`
	FullName     string  `json:"fullName" validate:"required,max=255"`
	Phone        *string `json:"phone" validate:"omitempty,max=32"`
	AddressLine1 string  `json:"addressLine1" validate:"required,max=255"`
	AddressLine2 *string `json:"addressLine2" validate:"omitempty,max=255"`
	City         string  `json:"city" validate:"required,max=120"`
	State        *string `json:"state" validate:"omitempty,max=120"`
	PostalCode   string  `json:"postalCode" validate:"required,max=32"`
	Country      string  `json:"country" validate:"required,max=120"`
}

func (r CreateAddressRequest) toModel(userID uuid.UUID) *models.UserAddress {
	addressType := enums.AddressTypeShipping
	if parsed, err := enums.ParseAddressType(r.AddressType); err == nil {
		addressType = parsed
	}
	return &models.UserAddress{
		UserID:       userID,
		AddressType:  addressType,
		IsDefault:    r.IsDefault,
		FullName:     strings.TrimSpace(r.FullName),
		Phone:        trimmed(r.Phone),
		AddressLine1: strings.TrimSpace(r.AddressLine1),
		AddressLine2: trimmed(r.AddressLine2),
		City:         strings.TrimSpace(r.City),
		State:        trimmed(r.State),
		PostalCode:   strings.TrimSpace(r.PostalCode),
		Country:      strings.TrimSpace(r.Country),
	}
}

// UpdateAddressRequest carries the fields a PUT may change. Nil means unchanged.
type UpdateAddressRequest struct {
	AddressType  *string `json:"addressType" validate:"omitempty,oneof=billing shipping both"`
	IsDefault    *bool   `json:"isDefault"`
	FullName     *string `json:"fullName" validate:"omitempty,min=1,max=255"`
	Phone        *string `json:"phone" validate:"omitempty,max=32"`
	AddressLine1 *string `json:"addressLine1" validate:"omitempty,min=1,max=255"`
	AddressLine2 *string `json:"addressLine2" validate:"omitempty,max=255"`
	City         *string `json:"city" validate:"omitempty,min=1,max=120"`
	State        *string `json:"state" validate:"omitempty,max=120"`
	PostalCode   *string `json:"postalCode" validate:"omitempty,min=1,max=32"`
	Country      *string `json:"country" validate:"omitempty,min=1,max=120"`
}

// columns lists the changed columns. is_default is handled by the caller.
func (r UpdateAddressRequest) columns() map[string]any {
	fields := map[string]any{}
	if r.AddressType != nil {
		if parsed, err := enums.ParseAddressType(*r.AddressType); err == nil {
			fields["address_type"] = parsed
		}
	}
	setRequired := func(column string, v *string) {
		if v != nil && strings.TrimSpace(*v) != "" {
			fields[column] = strings.TrimSpace(*v)
		}
	}
	setOptional := func(column string, v *string) {
		if v != nil {
			fields[column] = trimmed(v)
		}
	}
	setRequired("full_name", r.FullName)
	setRequired("address_line1", r.AddressLine1)
	setRequired("city", r.City)
	setRequired("postal_code", r.PostalCode)
	setRequired("country", r.Country)
	setOptional("phone", r.Phone)
	setOptional("address_line2", r.AddressLine2)
	setOptional("state", r.State)
	return fields
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
