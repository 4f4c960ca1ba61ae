package main

import (
	"fmt"
	"strings"

	"packdoc/models"

	"golang.org/x/crypto/bcrypt"
)

// RegisterUser creates a user with the given role and optional store.
func RegisterUser(email, name, password, roleName string, storeID *uint) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("valid email required")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("name required")
	}
	if len(password) < 6 { // basic password policy
		return fmt.Errorf("password too short (min 6)")
	}
	// pre-check existing (optimistic)
	var existing models.User
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return fmt.Errorf("user already exists")
	}
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if roleName == "" {
		roleName = models.RoleUser
	}
	var role models.Role
	if err := db.Where("name = ?", roleName).First(&role).Error; err != nil {
		return fmt.Errorf("unknown role %q", roleName)
	}
	rid := role.ID
	user := models.User{
		Email:          email,
		Name:           strings.TrimSpace(name),
		HashedPassword: hashedPassword,
		Active:         true,
		RoleID:         &rid,
		StoreID:        storeID,
	}
	if err := db.Create(&user).Error; err != nil {
		if isUniqueConstraintError(err) { // race condition after initial check
			return fmt.Errorf("user already exists")
		}
		return err
	}
	return nil
}

// Authenticate checks credentials and rejects deactivated accounts.
func Authenticate(email, password string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return models.User{}, fmt.Errorf("invalid credentials")
	}
	if err := bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)); err != nil {
		return models.User{}, fmt.Errorf("invalid credentials")
	}
	if !user.Active {
		return models.User{}, fmt.Errorf("account deactivated")
	}
	return user, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "unique constraint") || strings.Contains(s, "already exists")
}
