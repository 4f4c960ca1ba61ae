package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"packdoc/pkg/staging"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T) *gin.Engine {
	// integration tests are opt-in. Set DB_DSN_TEST=1 and DB_DSN to run them.
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	jwtSecret = []byte("integration-test-secret")
	initDB()
	stagingStore = staging.New(t.TempDir())
	r := gin.Default()
	setupRoutes(r)
	return r
}

func loginAs(t *testing.T, r http.Handler, email, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp := performRequest(r, http.MethodPost, "/login", bytes.NewBuffer(body), "")
	if resp.Code != 200 {
		t.Fatalf("login %s failed status=%d body=%s", email, resp.Code, resp.Body.String())
	}
	var loginResp map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &loginResp)
	token, _ := loginResp["token"].(string)
	if token == "" {
		t.Fatalf("empty token in login response: %+v", loginResp)
	}
	return token
}

// testPhotoBase64 renders a small JPEG and returns it as a data URI.
func testPhotoBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		t.Fatalf("encode test photo: %v", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t)

	adminToken := loginAs(t, r, "admin@example.com", "admin123")

	// 1. Admin creates a store and a packer in it
	storeBody, _ := json.Marshal(map[string]string{"storeCode": "IT-01", "storeName": "Integration Store"})
	resp := performRequest(r, http.MethodPost, "/stores", bytes.NewBuffer(storeBody), adminToken)
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("create store failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var storeResp struct {
		ID uint `json:"id"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &storeResp)
	storeID := storeResp.ID
	if storeID == 0 {
		// store existed from a previous run; look it up
		listResp := performRequest(r, http.MethodGet, "/stores", nil, adminToken)
		var stores []struct {
			ID        uint
			StoreCode string
		}
		_ = json.Unmarshal(listResp.Body.Bytes(), &stores)
		for _, s := range stores {
			if s.StoreCode == "IT-01" {
				storeID = s.ID
			}
		}
	}
	if storeID == 0 {
		t.Fatalf("no store id after create")
	}

	userBody, _ := json.Marshal(map[string]any{
		"email": "packer1@example.com", "name": "Packer One",
		"password": "pass123", "role": "user", "storeId": storeID,
	})
	resp = performRequest(r, http.MethodPost, "/users", bytes.NewBuffer(userBody), adminToken)
	if resp.Code != 200 && resp.Code != 409 {
		t.Fatalf("create user failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 2. Packer logs in and creates a record
	token := loginAs(t, r, "packer1@example.com", "pass123")
	recBody, _ := json.Marshal(map[string]string{"invoiceNumber": "INV-IT-1", "notes": "fragile"})
	resp = performRequest(r, http.MethodPost, "/records", bytes.NewBuffer(recBody), token)
	if resp.Code != 200 {
		t.Fatalf("create record failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var recResp struct {
		ID uint `json:"id"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &recResp)
	if recResp.ID == 0 {
		t.Fatalf("no record id in response: %s", resp.Body.String())
	}

	// 3. Upload two BEFORE photos
	photo := testPhotoBase64(t)
	var imageIDs []uint
	for i := 1; i <= 2; i++ {
		upBody, _ := json.Marshal(map[string]string{
			"imageType": "BEFORE", "fileName": fmt.Sprintf("before-%d.jpg", i), "base64Data": photo,
		})
		resp = performRequest(r, http.MethodPost, fmt.Sprintf("/records/%d/images", recResp.ID), bytes.NewBuffer(upBody), token)
		if resp.Code != 200 {
			t.Fatalf("upload image failed status=%d body=%s", resp.Code, resp.Body.String())
		}
		var upResp struct {
			ID     uint   `json:"id"`
			Status string `json:"status"`
		}
		_ = json.Unmarshal(resp.Body.Bytes(), &upResp)
		if upResp.Status != "PENDING" {
			t.Fatalf("fresh upload status = %q, want PENDING", upResp.Status)
		}
		imageIDs = append(imageIDs, upResp.ID)
	}

	// 4. Invalid payload is rejected up front
	badBody, _ := json.Marshal(map[string]string{
		"imageType": "BEFORE", "fileName": "junk.jpg",
		"base64Data": base64.StdEncoding.EncodeToString([]byte("not an image")),
	})
	resp = performRequest(r, http.MethodPost, fmt.Sprintf("/records/%d/images", recResp.ID), bytes.NewBuffer(badBody), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("garbage upload status=%d, want 400", resp.Code)
	}

	// 5. Status poll sees both images
	resp = performRequest(r, http.MethodGet,
		fmt.Sprintf("/records/%d/images/upload-status?ids=%d,%d", recResp.ID, imageIDs[0], imageIDs[1]), nil, token)
	if resp.Code != 200 {
		t.Fatalf("upload-status failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var statuses []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &statuses)
	if len(statuses) != 2 {
		t.Fatalf("upload-status returned %d items, want 2", len(statuses))
	}

	// 6. Reorder the BEFORE set
	reorderBody, _ := json.Marshal(map[string]any{
		"imageType": "BEFORE", "imageIds": []uint{imageIDs[1], imageIDs[0]},
	})
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/records/%d/images/reorder", recResp.ID), bytes.NewBuffer(reorderBody), token)
	if resp.Code != 200 {
		t.Fatalf("reorder failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	// partial id list must be rejected
	partialBody, _ := json.Marshal(map[string]any{"imageType": "BEFORE", "imageIds": []uint{imageIDs[0]}})
	resp = performRequest(r, http.MethodPut, fmt.Sprintf("/records/%d/images/reorder", recResp.ID), bytes.NewBuffer(partialBody), token)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("partial reorder status=%d, want 400", resp.Code)
	}

	// 7. Delete one photo; the survivor is renumbered to slot 1
	resp = performRequest(r, http.MethodDelete, fmt.Sprintf("/records/%d/images/%d", recResp.ID, imageIDs[0]), nil, token)
	if resp.Code != 200 {
		t.Fatalf("delete image failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, fmt.Sprintf("/records/%d", recResp.ID), nil, token)
	if resp.Code != 200 {
		t.Fatalf("get record failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	var rec struct {
		Images []struct {
			ID           uint
			DisplayOrder int
		}
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &rec)
	if len(rec.Images) != 1 || rec.Images[0].ID != imageIDs[1] || rec.Images[0].DisplayOrder != 1 {
		t.Fatalf("after delete images = %+v", rec.Images)
	}

	// 8. Packer sees own records; admin endpoint is off limits
	resp = performRequest(r, http.MethodGet, "/records", nil, token)
	if resp.Code != 200 {
		t.Fatalf("list records failed status=%d body=%s", resp.Code, resp.Body.String())
	}
	resp = performRequest(r, http.MethodGet, "/debug/upload-status", nil, token)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("debug as packer status=%d, want 403", resp.Code)
	}

	// 9. Admin debug view works
	resp = performRequest(r, http.MethodGet, "/debug/upload-status", nil, adminToken)
	if resp.Code != 200 {
		t.Fatalf("debug as admin failed status=%d body=%s", resp.Code, resp.Body.String())
	}

	// 10. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/records", nil, "")
	if unauth.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unauthorized list records got %d", unauth.Code)
	}
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	initDB()
}
