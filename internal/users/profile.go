package users

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/storefront-user-service/pkg/db/models"
	dbtypes "github.com/angelmondragon/storefront-user-service/pkg/db/types"
	"github.com/angelmondragon/storefront-user-service/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// ProfileDTO is the transport shape of a user profile.
type ProfileDTO struct {
	ID                   uuid.UUID       `json:"id"`
	UserID               uuid.UUID       `json:"user_id"`
	AvatarURL            *string         `json:"avatar_url"`
	DateOfBirth          *string         `json:"date_of_birth"`
	Gender               *enums.Gender   `json:"gender"`
	Bio                  *string         `json:"bio"`
	Preferences          dbtypes.JSONMap `json:"preferences"`
	NewsletterSubscribed bool            `json:"newsletter_subscribed"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// UpdateProfileRequest carries the optional profile fields; nil leaves a field unchanged.
type UpdateProfileRequest struct {
	AvatarURL            *string         `json:"avatarUrl" validate:"omitempty,url,max=2048"`
	DateOfBirth          *string         `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Gender               *string         `json:"gender" validate:"omitempty,oneof=male female other prefer_not_to_say"`
	Bio                  *string         `json:"bio" validate:"omitempty,max=2000"`
	Preferences          dbtypes.JSONMap `json:"preferences"`
	NewsletterSubscribed *bool           `json:"newsletterSubscribed"`
}

// ProfileFromModel maps a profile row; nil stays nil.
func ProfileFromModel(p *models.UserProfile) *ProfileDTO {
	if p == nil {
		return nil
	}
	dto := &ProfileDTO{
		ID:                   p.ID,
		UserID:               p.UserID,
		AvatarURL:            p.AvatarURL,
		Gender:               p.Gender,
		Bio:                  p.Bio,
		Preferences:          p.Preferences,
		NewsletterSubscribed: p.NewsletterSubscribed,
		CreatedAt:            p.CreatedAt,
		UpdatedAt:            p.UpdatedAt,
	}
	if dto.Preferences == nil {
		dto.Preferences = dbtypes.JSONMap{}
	}
	if p.DateOfBirth != nil {
		formatted := p.DateOfBirth.Format(dateLayout)
		dto.DateOfBirth = &formatted
	}
	return dto
}

// FindProfile returns the user's profile or nil when none exists.
func (r *Repository) FindProfile(ctx context.Context, userID uuid.UUID) (*models.UserProfile, error) {
	var profile models.UserProfile
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// SaveProfile inserts or updates the profile row.
func (r *Repository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.ID == uuid.Nil {
		return r.db.WithContext(ctx).Create(profile).Error
	}
	return r.db.WithContext(ctx).Save(profile).Error
}

// apply merges the request into profile. An invalid gender or date was
// already rejected by request validation.
func (req UpdateProfileRequest) apply(profile *models.UserProfile) error {
	if req.AvatarURL != nil {
		profile.AvatarURL = emptyToNil(*req.AvatarURL)
	}
	if req.DateOfBirth != nil {
		if *req.DateOfBirth == "" {
			profile.DateOfBirth = nil
		} else {
			dob, err := time.Parse(dateLayout, *req.DateOfBirth)
			if err != nil {
				return err
			}
			profile.DateOfBirth = &dob
		}
	}
	if req.Gender != nil {
		if *req.Gender == "" {
			profile.Gender = nil
		} else {
			gender, err := enums.ParseGender(*req.Gender)
			if err != nil {
				return err
			}
			profile.Gender = &gender
		}
	}
	if req.Bio != nil {
		profile.Bio = emptyToNil(*req.Bio)
	}
	if req.Preferences != nil {
		profile.Preferences = req.Preferences
	}
	if req.NewsletterSubscribed != nil {
		profile.NewsletterSubscribed = *req.NewsletterSubscribed
	}
	return nil
}

func emptyToNil(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
