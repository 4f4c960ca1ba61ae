package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"packdoc/models"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

func setupRoutes(r *gin.Engine) {
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)
	r.POST("/revoke_refresh", revokeRefreshHandler)

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/records", createRecordHandler)
	authGroup.GET("/records", listRecordsHandler)
	authGroup.GET("/records/:id", getRecordHandler)
	authGroup.POST("/records/:id/images", uploadImageHandler)
	authGroup.GET("/records/:id/images/upload-status", uploadStatusHandler)
	authGroup.PUT("/records/:id/images/reorder", reorderImagesHandler)
	authGroup.DELETE("/records/:id/images/:imageId", deleteImageHandler)

	adminGroup := authGroup.Group("")
	adminGroup.Use(requireRole(models.RoleAdmin))
	adminGroup.POST("/users", createUserHandler)
	adminGroup.GET("/users", listUsersHandler)
	adminGroup.POST("/stores", createStoreHandler)
	adminGroup.GET("/stores", listStoresHandler)
	adminGroup.PUT("/stores/:id", updateStoreHandler)
	adminGroup.DELETE("/stores/:id", deleteStoreHandler)
	adminGroup.GET("/settings", listSettingsHandler)
	adminGroup.PUT("/settings", putSettingHandler)
	adminGroup.GET("/debug/upload-status", debugUploadStatusHandler)
}

func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			c.Abort()
			return
		}
		tokenString := authHeader[7:]
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrInvalidKeyType
			}
			return jwtSecret, nil
		})
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid claims"})
			c.Abort()
			return
		}
		email, _ := claims["email"].(string)
		role, _ := claims["role"].(string)
		c.Set("email", email)
		if role != "" {
			c.Set("role", role)
		}
		c.Next()
	}
}

// requireRole gates a route group to one role name.
func requireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("role") != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func meHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":   user.Email,
		"name":    user.Name,
		"role":    c.GetString("role"),
		"storeId": user.StoreID,
	})
}

// getUserFromContext fetches the currently authenticated user using the email set by jwtAuthMiddleware
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	emailVal, _ := c.Get("email")
	if emailVal == nil {
		return nil, false
	}
	email := emailVal.(string)
	var user models.User
	if err := db.Where("email = ?", email).First(&user).Error; err != nil {
		return nil, false
	}
	return &user, true
}

// scopeRecords narrows a packing-record query to what the caller may see:
// users their own records, ops their store, admins everything.
func scopeRecords(q *gorm.DB, role string, user *models.User) *gorm.DB {
	switch role {
	case models.RoleAdmin:
		return q
	case models.RoleOps:
		if user.StoreID == nil {
			return q.Where("1 = 0")
		}
		return q.Where("store_id = ?", *user.StoreID)
	default:
		return q.Where("user_id = ?", user.ID)
	}
}

// recordForCaller loads the :id record and enforces the caller's scope.
func recordForCaller(c *gin.Context) (*models.PackingRecord, *models.User, bool) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return nil, nil, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return nil, nil, false
	}
	var record models.PackingRecord
	if err := db.First(&record, uint(id)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return nil, nil, false
	}
	role := c.GetString("role")
	allowed := role == models.RoleAdmin ||
		(role == models.RoleOps && user.StoreID != nil && record.StoreID == *user.StoreID) ||
		record.UserID == user.ID
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, nil, false
	}
	return &record, user, true
}

func createRecordHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	var req struct {
		InvoiceNumber string `json:"invoiceNumber" binding:"required"`
		Notes         string `json:"notes"`
		PackedAt      string `json:"packedAt"` // optional RFC3339
		StoreID       *uint  `json:"storeId"`  // admin override
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	storeID := user.StoreID
	if req.StoreID != nil && c.GetString("role") == models.RoleAdmin {
		storeID = req.StoreID
	}
	if storeID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user has no store assigned"})
		return
	}
	record := models.PackingRecord{
		InvoiceNumber: strings.TrimSpace(req.InvoiceNumber),
		Notes:         req.Notes,
		PackedAt:      time.Now(),
		UserID:        user.ID,
		StoreID:       *storeID,
	}
	if req.PackedAt != "" {
		t, err := time.Parse(time.RFC3339, req.PackedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "packedAt must be RFC3339"})
			return
		}
		record.PackedAt = t
	}
	if record.InvoiceNumber == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invoiceNumber required"})
		return
	}
	if err := db.Create(&record).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": record.ID})
}

func listRecordsHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	q := scopeRecords(db.Model(&models.PackingRecord{}), c.GetString("role"), user)
	if inv := c.Query("invoiceNumber"); inv != "" {
		q = q.Where("invoice_number = ?", inv)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	var items []models.PackingRecord
	err := q.Order("id desc").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Preload("Images", func(db *gorm.DB) *gorm.DB {
			return db.Order("image_type, display_order")
		}).
		Find(&items).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "page": page, "pageSize": pageSize})
}

func getRecordHandler(c *gin.Context) {
	record, _, ok := recordForCaller(c)
	if !ok {
		return
	}
	if err := db.Preload("Images", func(db *gorm.DB) *gorm.DB {
		return db.Order("image_type, display_order")
	}).Preload("Store").First(record, record.ID).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, record)
}

func loginHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := Authenticate(req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokenString, err := signAccessToken(user, 24*time.Hour)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	refreshToken, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "login successful", "token": tokenString, "refresh_token": refreshToken})
}

// signAccessToken issues an HS256 token carrying the email, role and store claims.
func signAccessToken(user models.User, ttl time.Duration) (string, error) {
	roleName := ""
	if user.RoleID != nil {
		var r models.Role
		if err := db.First(&r, *user.RoleID).Error; err == nil {
			roleName = r.Name
		}
	}
	claims := jwt.MapClaims{
		"email": user.Email,
		"role":  roleName,
		"exp":   time.Now().Add(ttl).Unix(),
	}
	if user.StoreID != nil {
		claims["store"] = *user.StoreID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(jwtSecret)
}

// createAndStoreRefreshToken generates a random refresh token, stores its hash with expiry and returns the raw token string
func createAndStoreRefreshToken(userID uint) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	rt := models.RefreshToken{UserID: userID, TokenHash: th, ExpiresAt: time.Now().Add(30 * 24 * time.Hour)}
	if err := db.Create(&rt).Error; err != nil {
		return "", err
	}
	return token, nil
}

// helper to find refresh token record by raw token string
func findRefreshTokenByRaw(token string) (*models.RefreshToken, error) {
	h := sha256.Sum256([]byte(token))
	th := hex.EncodeToString(h[:])
	var rt models.RefreshToken
	if err := db.Where("token_hash = ?", th).First(&rt).Error; err != nil {
		return nil, err
	}
	return &rt, nil
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil || rt.Revoked || time.Now().After(rt.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := db.First(&user, rt.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	tokenString, err := signAccessToken(user, 15*time.Minute)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	// rotate refresh token: revoke existing and create new one
	db.Model(&models.RefreshToken{}).Where("id = ?", rt.ID).Update("revoked", true)
	newRT, err := createAndStoreRefreshToken(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to rotate refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tokenString, "refresh_token": newRT})
}

// revokeRefreshHandler revokes a given refresh token (useful on logout)
func revokeRefreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := findRefreshTokenByRaw(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "refresh token not found"})
		return
	}
	rt.Revoked = true
	if err := db.Save(rt).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "refresh token revoked"})
}

func createUserHandler(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Name     string `json:"name" binding:"required"`
		Password string `json:"password" binding:"required"`
		Role     string `json:"role"`
		StoreID  *uint  `json:"storeId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := RegisterUser(req.Email, req.Name, req.Password, req.Role, req.StoreID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "user created"})
}

func listUsersHandler(c *gin.Context) {
	var users []models.User
	if err := db.Preload("Role").Preload("Store").Order("id").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		item := gin.H{"id": u.ID, "email": u.Email, "name": u.Name, "active": u.Active, "role": u.Role.Name}
		if u.Store != nil {
			item["storeCode"] = u.Store.StoreCode
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

func createStoreHandler(c *gin.Context) {
	var req struct {
		StoreCode string `json:"storeCode" binding:"required"`
		StoreName string `json:"storeName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	store := models.Store{StoreCode: strings.TrimSpace(req.StoreCode), StoreName: strings.TrimSpace(req.StoreName)}
	if err := db.Create(&store).Error; err != nil {
		if isUniqueConstraintError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "store code already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": store.ID})
}

func listStoresHandler(c *gin.Context) {
	var stores []models.Store
	if err := db.Order("store_code").Find(&stores).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, stores)
}

func updateStoreHandler(c *gin.Context) {
	var store models.Store
	if err := db.First(&store, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
		return
	}
	var req struct {
		StoreCode string `json:"storeCode"`
		StoreName string `json:"storeName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.StoreCode != "" {
		store.StoreCode = strings.TrimSpace(req.StoreCode)
	}
	if req.StoreName != "" {
		store.StoreName = strings.TrimSpace(req.StoreName)
	}
	if err := db.Save(&store).Error; err != nil {
		if isUniqueConstraintError(err) {
			c.JSON(http.StatusConflict, gin.H{"error": "store code already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, store)
}

func deleteStoreHandler(c *gin.Context) {
	var store models.Store
	if err := db.First(&store, c.Param("id")).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not found"})
		return
	}
	var cnt int64
	db.Model(&models.PackingRecord{}).Where("store_id = ?", store.ID).Count(&cnt)
	if cnt > 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "store has packing records"})
		return
	}
	if err := db.Delete(&store).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "store deleted"})
}

func listSettingsHandler(c *gin.Context) {
	var settings []models.Setting
	if err := db.Order("key").Find(&settings).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := gin.H{}
	for _, s := range settings {
		out[s.Key] = s.Value
	}
	c.JSON(http.StatusOK, out)
}

func putSettingHandler(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var setting models.Setting
	err := db.Where("key = ?", req.Key).First(&setting).Error
	switch {
	case err == nil:
		setting.Value = req.Value
		err = db.Save(&setting).Error
	default:
		setting = models.Setting{Key: req.Key, Value: req.Value}
		err = db.Create(&setting).Error
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{req.Key: setting.Value})
}
