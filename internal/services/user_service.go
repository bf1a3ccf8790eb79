package services

import (
	"ai_assistant_go_backend/internal/models"

	"gorm.io/gorm"
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// CreateOrUpdateUser upserts a user keyed on the token subject. Profile
// fields refresh on every login so the local record tracks the identity
// provider.
func (s *UserService) CreateOrUpdateUser(externalID, email, name string) (*models.User, error) {
	user := models.User{
		ExternalID: externalID,
		Email:      email,
		Name:       name,
	}
	if err := s.db.Where(models.User{ExternalID: externalID}).FirstOrCreate(&user).Error; err != nil {
		return nil, err
	}

	if user.Email != email || user.Name != name {
		user.Email = email
		user.Name = name
		if err := s.db.Save(&user).Error; err != nil {
			return nil, err
		}
	}

	return &user, nil
}

func (s *UserService) GetUserByExternalID(externalID string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
