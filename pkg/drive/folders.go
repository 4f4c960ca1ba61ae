package drive

import (
	"context"
	"fmt"
	"strings"
	"time"

	driveapi "google.golang.org/api/drive/v3"
)

const folderMimeType = "application/vnd.google-apps.folder"

var nameSanitizer = strings.NewReplacer(
	"/", "-", `\`, "-", "?", "-", "*", "-",
	":", "-", "|", "-", `"`, "-", "<", "-", ">", "-",
)

// sanitizeName makes a string safe for use as a Drive folder name segment.
func sanitizeName(s string) string {
	return strings.TrimSpace(nameSanitizer.Replace(s))
}

// escapeQuery escapes a value for embedding in a Drive search query literal.
func escapeQuery(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

// ProvisionInvoiceFolder builds the three-level hierarchy
// [Root]/[StoreCode-StoreName]/[YYYY-MM]/[Invoice_YYYYMMDD_HHMMSS] and
// returns the invoice folder id. Every level is search-or-create scoped to
// its parent, so provisioning the same path twice returns the same folder.
// Two callers racing on the same path can still duplicate a level; Drive
// does not enforce name uniqueness, and single-writer draining makes the
// race unreachable in practice.
func (c *Client) ProvisionInvoiceFolder(ctx context.Context, storeCode, storeName, invoiceNumber string, ts time.Time) (string, error) {
	if c.rootFolderID == "" {
		return "", fmt.Errorf("%w: missing root folder id", ErrNotConfigured)
	}

	storeFolder := sanitizeName(storeCode) + "-" + sanitizeName(storeName)
	storeID, err := c.createOrGetFolder(ctx, storeFolder, c.rootFolderID)
	if err != nil {
		return "", err
	}

	yearMonth := ts.UTC().Format("2006-01")
	monthID, err := c.createOrGetFolder(ctx, yearMonth, storeID)
	if err != nil {
		return "", err
	}

	invoiceFolder := sanitizeName(invoiceNumber) + "_" + ts.UTC().Format("20060102_150405")
	return c.createOrGetFolder(ctx, invoiceFolder, monthID)
}

// createOrGetFolder searches for a non-trashed folder by name under parent
// and creates it only when the search comes up empty.
func (c *Client) createOrGetFolder(ctx context.Context, name, parentID string) (string, error) {
	query := fmt.Sprintf("name='%s' and mimeType='%s' and '%s' in parents and trashed=false",
		escapeQuery(name), folderMimeType, parentID)

	var list *driveapi.FileList
	err := c.Policy.Do(ctx, func() error {
		var callErr error
		list, callErr = c.svc.Files.List().
			Q(query).
			Fields("files(id, name)").
			Spaces("drive").
			Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", c.wrap(fmt.Errorf("search folder %q: %w", name, err))
	}
	if len(list.Files) > 0 {
		return list.Files[0].Id, nil
	}

	meta := &driveapi.File{
		Name:     name,
		MimeType: folderMimeType,
		Parents:  []string{parentID},
	}
	var created *driveapi.File
	err = c.Policy.Do(ctx, func() error {
		var callErr error
		created, callErr = c.svc.Files.Create(meta).Fields("id").Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return "", c.wrap(fmt.Errorf("create folder %q: %w", name, err))
	}
	return created.Id, nil
}
