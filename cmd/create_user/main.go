package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"packdoc/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	email := flag.String("email", "", "user email (required)")
	name := flag.String("name", "", "display name (defaults to email)")
	password := flag.String("password", "", "password (required)")
	roleName := flag.String("role", models.RoleUser, "role: admin, ops or user")
	storeCode := flag.String("store", "", "store code to assign the user to")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Println("usage: create_user -email <email> -password <password> [-name <name>] [-role user] [-store MAIN]")
		os.Exit(2)
	}
	if *name == "" {
		*name = *email
	}

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	var role models.Role
	if err := db.Where("name = ?", *roleName).First(&role).Error; err != nil {
		log.Fatalf("unknown role %q (run the server migrate command first)", *roleName)
	}

	var storeID *uint
	if *storeCode != "" {
		var store models.Store
		if err := db.Where("store_code = ?", *storeCode).First(&store).Error; err != nil {
			log.Fatalf("unknown store code %q", *storeCode)
		}
		sid := store.ID
		storeID = &sid
	}

	var existing models.User
	if err := db.Where("email = ?", *email).First(&existing).Error; err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", *email, existing.ID)
		os.Exit(0)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	rid := role.ID
	user := models.User{
		Email:          strings.ToLower(strings.TrimSpace(*email)),
		Name:           *name,
		HashedPassword: hpw,
		Active:         true,
		RoleID:         &rid,
		StoreID:        storeID,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created user %s id=%d role=%s\n", user.Email, user.ID, role.Name)
}
