package main

import (
	"log"
	"os"
	"strings"

	"packdoc/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Any permission errors will be logged and ignored.
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	// Master tables first so the FKs on users and records can be applied safely.
	if shouldMigrate {
		if err := db.AutoMigrate(&models.Role{}); err != nil {
			log.Printf("migration warning (roles): %v", err)
		}
		if err := db.AutoMigrate(&models.Store{}); err != nil {
			log.Printf("migration warning (stores): %v", err)
		}
	}
	seedRoles()

	if shouldMigrate {
		// Migrate models individually so a failure on one doesn't block others
		if err := db.AutoMigrate(&models.User{}); err != nil {
			log.Printf("migration warning (users): %v", err)
		}
		if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
			log.Printf("migration warning (refresh_tokens): %v", err)
		}
		if err := db.AutoMigrate(&models.PackingRecord{}); err != nil {
			log.Printf("migration warning (packing_records): %v", err)
		}
		if err := db.AutoMigrate(&models.PackingImage{}); err != nil {
			log.Printf("migration warning (packing_images): %v", err)
		}
		if err := db.AutoMigrate(&models.UploadQueue{}); err != nil {
			log.Printf("migration warning (upload_queues): %v", err)
		}
		if err := db.AutoMigrate(&models.Setting{}); err != nil {
			log.Printf("migration warning (settings): %v", err)
		}
	}
	seedDB()
}

func seedRoles() {
	roles := []models.Role{
		{Name: models.RoleAdmin, Description: "full access"},
		{Name: models.RoleOps, Description: "store operations"},
		{Name: models.RoleUser, Description: "packing staff"},
	}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}

func seedDB() {
	seedRoles()

	// Default store so the seeded admin and first records have a home.
	var store models.Store
	if err := db.Where("store_code = ?", "MAIN").First(&store).Error; err != nil {
		store = models.Store{StoreCode: "MAIN", StoreName: "Main Store"}
		if err := db.Create(&store).Error; err != nil {
			log.Printf("failed to seed default store: %v", err)
		}
	}

	adminEmail := os.Getenv("ADMIN_EMAIL")
	if adminEmail == "" {
		adminEmail = "admin@example.com"
	}
	var count int64
	db.Model(&models.User{}).Where("email = ?", adminEmail).Count(&count)
	if count == 0 {
		var role models.Role
		if err := db.Where("name = ?", models.RoleAdmin).First(&role).Error; err != nil {
			log.Printf("failed to find admin role: %v", err)
		}
		password := os.Getenv("ADMIN_PASSWORD")
		if password == "" {
			password = "admin123"
		}
		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		rid := role.ID
		sid := store.ID
		admin := models.User{
			Email:          adminEmail,
			Name:           "Administrator",
			HashedPassword: hashedPassword,
			Active:         true,
			RoleID:         &rid,
			StoreID:        &sid,
		}
		db.Create(&admin)
		log.Printf("Seeded admin user: email=%s", adminEmail)
	}

	ensureStagingBase()
}

// ensureStagingBase creates the base directory staged photos are written to.
func ensureStagingBase() {
	base := stagingBaseDir()
	if err := os.MkdirAll(base, 0755); err != nil {
		log.Printf("failed to create staging base dir %s: %v", base, err)
	}
}

// stagingBaseDir returns the base directory for staged uploads (configurable via UPLOAD_BASE env)
func stagingBaseDir() string {
	if v := os.Getenv("UPLOAD_BASE"); v != "" {
		return v
	}
	return "uploads"
}
