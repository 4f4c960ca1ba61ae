package main

import (
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"packdoc/models"
	"packdoc/pkg/imgcodec"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// uploadImageHandler accepts one base64 photo, compresses it, stages it
// locally and enqueues it for the drive drain. The response reflects the
// queued state; the actual upload happens asynchronously.
func uploadImageHandler(c *gin.Context) {
	record, _, ok := recordForCaller(c)
	if !ok {
		return
	}
	var req struct {
		ImageType  string `json:"imageType" binding:"required"`
		FileName   string `json:"fileName" binding:"required"`
		Base64Data string `json:"base64Data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	imageType := strings.ToUpper(strings.TrimSpace(req.ImageType))
	if imageType != models.ImageTypeBefore && imageType != models.ImageTypeAfter {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageType must be BEFORE or AFTER"})
		return
	}
	raw, err := decodeBase64Image(req.Base64Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid base64 data"})
		return
	}

	var existing int64
	db.Model(&models.PackingImage{}).
		Where("packing_record_id = ? AND image_type = ?", record.ID, imageType).
		Count(&existing)
	if existing >= models.MaxImagesPerType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maximum 5 photos per type"})
		return
	}

	res, err := imgcodec.Compress(raw, imgcodec.Options{})
	if err != nil {
		if errors.Is(err, imgcodec.ErrInvalidImage) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "image processing failed"})
		return
	}

	localPath, err := stagingStore.Stage(record.ID, res.Data, req.FileName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "staging failed"})
		return
	}

	image := models.PackingImage{
		PackingRecordID: record.ID,
		ImageType:       imageType,
		FileName:        req.FileName,
		DisplayOrder:    int(existing) + 1,
		LocalPath:       &localPath,
		UploadStatus:    models.UploadStatusPending,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&image).Error; err != nil {
			return err
		}
		entry := models.UploadQueue{
			ImageID:     image.ID,
			MaxAttempts: models.DefaultMaxAttempts,
			Status:      models.UploadStatusPending,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		if rerr := stagingStore.Release(localPath); rerr != nil {
			log.Printf("failed to release staged file %s: %v", localPath, rerr)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             image.ID,
		"fileName":       image.FileName,
		"status":         image.UploadStatus,
		"originalSize":   res.OriginalSize,
		"compressedSize": res.CompressedSize,
		"dimensions":     gin.H{"width": res.Width, "height": res.Height},
	})
}

// decodeBase64Image accepts raw base64 or a data URI.
func decodeBase64Image(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, errors.New("malformed data URI")
		}
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	return data, nil
}

// uploadStatusHandler reports per-image upload state for the ids requested,
// shaped for the polling client.
func uploadStatusHandler(c *gin.Context) {
	record, _, ok := recordForCaller(c)
	if !ok {
		return
	}
	idsParam := c.Query("ids")
	if idsParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids query parameter required"})
		return
	}
	var ids []uint
	for _, part := range strings.Split(idsParam, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
			return
		}
		ids = append(ids, uint(v))
	}
	var images []models.PackingImage
	if err := db.Where("packing_record_id = ? AND id IN ?", record.ID, ids).Find(&images).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	out := make([]gin.H, 0, len(images))
	for _, img := range images {
		item := gin.H{
			"id":       img.ID,
			"fileName": img.FileName,
			"status":   img.UploadStatus,
			"progress": img.UploadProgress,
		}
		if img.UploadError != nil {
			item["error"] = *img.UploadError
		}
		if img.DriveURL != nil {
			item["remoteUrl"] = *img.DriveURL
		}
		out = append(out, item)
	}
	c.JSON(http.StatusOK, out)
}

// reorderImagesHandler renumbers one image type of a record. The id list
// must cover exactly the record's images of that type; anything else
// rejects the whole request.
func reorderImagesHandler(c *gin.Context) {
	record, _, ok := recordForCaller(c)
	if !ok {
		return
	}
	var req struct {
		ImageType string `json:"imageType" binding:"required"`
		ImageIDs  []uint `json:"imageIds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	imageType := strings.ToUpper(strings.TrimSpace(req.ImageType))
	if imageType != models.ImageTypeBefore && imageType != models.ImageTypeAfter {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageType must be BEFORE or AFTER"})
		return
	}
	var images []models.PackingImage
	if err := db.Where("packing_record_id = ? AND image_type = ?", record.ID, imageType).Find(&images).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	if len(req.ImageIDs) != len(images) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "imageIds must cover all images of this type"})
		return
	}
	known := make(map[uint]bool, len(images))
	for _, img := range images {
		known[img.ID] = true
	}
	seen := make(map[uint]bool, len(req.ImageIDs))
	for _, id := range req.ImageIDs {
		if !known[id] || seen[id] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "imageIds must be the record's images of this type, no duplicates"})
			return
		}
		seen[id] = true
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		for idx, id := range req.ImageIDs {
			if err := tx.Model(&models.PackingImage{}).Where("id = ?", id).
				Update("display_order", idx+1).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reorder failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "order updated"})
}

// deleteImageHandler removes a photo. The remote copy and staged file are
// cleaned up best-effort; the database row is the source of truth. Remaining
// photos of the type are renumbered densely.
func deleteImageHandler(c *gin.Context) {
	record, _, ok := recordForCaller(c)
	if !ok {
		return
	}
	imageID, err := strconv.ParseUint(c.Param("imageId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}
	var image models.PackingImage
	if err := db.Where("id = ? AND packing_record_id = ?", uint(imageID), record.ID).First(&image).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "image not found"})
		return
	}
	if image.UploadStatus == models.UploadStatusUploading {
		c.JSON(http.StatusConflict, gin.H{"error": "upload in progress"})
		return
	}

	if image.DriveFileID != nil && driveClient != nil {
		if err := driveClient.DeleteFile(c.Request.Context(), *image.DriveFileID); err != nil {
			log.Printf("failed to delete remote file %s: %v", *image.DriveFileID, err)
		}
	}
	if image.LocalPath != nil {
		if err := stagingStore.Release(*image.LocalPath); err != nil {
			log.Printf("failed to release staged file %s: %v", *image.LocalPath, err)
		}
	}

	// The queue row is left in place; a still-pending entry is failed as
	// orphaned by the next drain cycle, keeping the audit trail intact.
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&image).Error; err != nil {
			return err
		}
		var rest []models.PackingImage
		if err := tx.Where("packing_record_id = ? AND image_type = ?", record.ID, image.ImageType).
			Order("display_order").Find(&rest).Error; err != nil {
			return err
		}
		for idx, img := range rest {
			if img.DisplayOrder != idx+1 {
				if err := tx.Model(&models.PackingImage{}).Where("id = ?", img.ID).
					Update("display_order", idx+1).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "image deleted"})
}

// debugUploadStatusHandler gives operators a quick read on queue health.
func debugUploadStatusHandler(c *gin.Context) {
	type statusCount struct {
		Status string
		Count  int64
	}
	countBy := func(model any, column string) (gin.H, error) {
		var rows []statusCount
		err := db.Model(model).Select(column + " as status, count(*) as count").
			Group(column).Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		out := gin.H{}
		for _, r := range rows {
			out[r.Status] = r.Count
		}
		return out, nil
	}
	queueCounts, err := countBy(&models.UploadQueue{}, "status")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	imageCounts, err := countBy(&models.PackingImage{}, "upload_status")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	var failures []models.UploadQueue
	if err := db.Where("status = ?", models.UploadStatusFailed).
		Preload("Image").Order("updated_at desc").Limit(10).Find(&failures).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	recent := make([]gin.H, 0, len(failures))
	for _, f := range failures {
		item := gin.H{"queueId": f.ID, "imageId": f.ImageID, "attempts": f.Attempts, "fileName": f.Image.FileName}
		if f.LastError != nil {
			item["lastError"] = *f.LastError
		}
		recent = append(recent, item)
	}
	c.JSON(http.StatusOK, gin.H{
		"queue":          queueCounts,
		"images":         imageCounts,
		"recentFailures": recent,
	})
}
