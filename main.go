package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"packdoc/pkg/drive"
	"packdoc/pkg/staging"
	"packdoc/pkg/uploadqueue"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

var jwtSecret []byte // loaded from env JWT_SECRET (fallback to dev default)

var stagingStore *staging.Store

// driveClient is nil when the gateway is unconfigured; handlers that touch
// remote files treat that as best-effort.
var driveClient *drive.Client

func main() {
	// Load ./.env if present before reading vars; existing env wins.
	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		secret = "dev-insecure-secret-change" // development fallback
	}
	jwtSecret = []byte(secret)

	// Support a lightweight migrate command: `./packdoc migrate`
	// It runs AutoMigrate and seeding then exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		initDB()
		fmt.Println("migration and seeding completed")
		return
	}

	initDB()
	stagingStore = staging.New(stagingBaseDir())

	engine := startUploadEngine()
	if engine != nil {
		defer engine.Stop()
	}

	r := gin.Default()

	setupRoutes(r)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}
	r.Run(":" + port)
}

// startUploadEngine wires the drive gateway and starts the queue drain loop.
// Without provider credentials the server still runs: uploads queue up and
// stay PENDING until an operator configures the gateway and restarts.
func startUploadEngine() *uploadqueue.Engine {
	cfg := drive.Config{
		ServiceAccountEmail:      os.Getenv("DRIVE_SERVICE_ACCOUNT_EMAIL"),
		ServiceAccountPrivateKey: os.Getenv("DRIVE_SERVICE_ACCOUNT_PRIVATE_KEY"),
		ClientID:                 os.Getenv("DRIVE_CLIENT_ID"),
		ClientSecret:             os.Getenv("DRIVE_CLIENT_SECRET"),
		RefreshToken:             os.Getenv("DRIVE_REFRESH_TOKEN"),
		RootFolderID:             os.Getenv("DRIVE_ROOT_FOLDER_ID"),
	}
	client, err := drive.NewClient(context.Background(), cfg)
	if err != nil {
		if errors.Is(err, drive.ErrNotConfigured) {
			log.Println("drive gateway not configured; upload queue is idle")
			return nil
		}
		log.Fatalf("drive gateway init failed: %v", err)
	}
	driveClient = client
	engine := uploadqueue.New(uploadqueue.NewGormStore(db), client, stagingStore)
	engine.Start()
	log.Println("upload queue engine started")
	return engine
}
