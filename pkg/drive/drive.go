// Package drive is the gateway to Google Drive: idempotent invoice folder
// provisioning, file upload, public-read permission grants and deletion.
// Transient provider failures are retried through the shared retry policy;
// configuration and permission problems surface as distinct error types so
// operators can act on them instead of waiting out backoff.
package drive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"packdoc/pkg/retry"
)

// ErrNotConfigured means neither service-account nor OAuth2 credentials (or
// the root folder id) are present. Fatal: surfaced immediately, never retried.
var ErrNotConfigured = errors.New("google drive credentials not configured")

// PermissionError means Drive rejected the call for lack of access; the fix
// is sharing the target folder with the service account.
type PermissionError struct {
	Email string
	Err   error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("drive permission denied: share the folder with service account %s: %v", e.Email, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// NotFoundError means the configured root folder (or a file) does not exist.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("drive resource not found: check DRIVE_ROOT_FOLDER_ID: %v", e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// Config holds provider credentials. A service account is preferred; the
// OAuth2 refresh-token triple is the legacy fallback.
type Config struct {
	ServiceAccountEmail      string
	ServiceAccountPrivateKey string
	ClientID                 string
	ClientSecret             string
	RefreshToken             string
	RootFolderID             string
}

// credentialSource is the authentication capability; the variant is chosen
// once at startup by configuration presence and the client never looks back.
type credentialSource interface {
	tokenSource(ctx context.Context) (oauth2.TokenSource, error)
}

type serviceAccountCreds struct {
	email      string
	privateKey string
}

func (c serviceAccountCreds) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	conf := &jwt.Config{
		Email: c.email,
		// keys pasted into env files arrive with literal \n sequences
		PrivateKey: []byte(strings.ReplaceAll(c.privateKey, `\n`, "\n")),
		Scopes:     []string{driveapi.DriveScope},
		TokenURL:   google.JWTTokenURL,
	}
	return conf.TokenSource(ctx), nil
}

type oauthCreds struct {
	clientID     string
	clientSecret string
	refreshToken string
}

func (c oauthCreds) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	conf := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{driveapi.DriveScope},
	}
	return conf.TokenSource(ctx, &oauth2.Token{RefreshToken: c.refreshToken}), nil
}

func (c Config) credentials() (credentialSource, error) {
	if c.ServiceAccountEmail != "" && c.ServiceAccountPrivateKey != "" {
		return serviceAccountCreds{email: c.ServiceAccountEmail, privateKey: c.ServiceAccountPrivateKey}, nil
	}
	if c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "" {
		return oauthCreds{clientID: c.ClientID, clientSecret: c.ClientSecret, refreshToken: c.RefreshToken}, nil
	}
	return nil, ErrNotConfigured
}

// UploadResult identifies an uploaded file on the provider.
type UploadResult struct {
	FileID  string
	ViewURL string
}

// Client wraps the Drive v3 service.
type Client struct {
	svc          *driveapi.Service
	rootFolderID string
	saEmail      string

	// Policy drives transient-failure retries on every provider call.
	Policy retry.Policy
}

// NewClient authenticates against Drive using whichever credential variant
// the config carries. Extra options are appended after the token source so
// tests can redirect the endpoint.
func NewClient(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	creds, err := cfg.credentials()
	if err != nil {
		return nil, err
	}
	ts, err := creds.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	all := append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)
	svc, err := driveapi.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return newClient(svc, cfg), nil
}

func newClient(svc *driveapi.Service, cfg Config) *Client {
	c := &Client{
		svc:          svc,
		rootFolderID: cfg.RootFolderID,
		saEmail:      cfg.ServiceAccountEmail,
		Policy:       retry.Default(),
	}
	c.Policy.Classify = classify
	return c
}

// classify maps a Drive call error onto the shared retry signal: API errors
// carry their HTTP status, anything else counts as a network error.
func classify(err error) retry.Signal {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retry.Signal{Status: apiErr.Code}
	}
	return retry.Signal{Err: err}
}

// wrap converts terminal provider errors into their actionable types.
func (c *Client) wrap(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 403:
			return &PermissionError{Email: c.saEmail, Err: err}
		case 404:
			return &NotFoundError{Err: err}
		}
	}
	return err
}

// UploadFile stores data under the given folder and returns the file id and
// view URL. Granting read access is a separate call; both must succeed
// before an image counts as uploaded.
func (c *Client) UploadFile(ctx context.Context, data []byte, name, mimeType, folderID string) (*UploadResult, error) {
	if folderID == "" {
		folderID = c.rootFolderID
	}
	if folderID == "" {
		return nil, fmt.Errorf("%w: missing root folder id", ErrNotConfigured)
	}
	meta := &driveapi.File{Name: name, Parents: []string{folderID}}
	var created *driveapi.File
	err := c.Policy.Do(ctx, func() error {
		var callErr error
		created, callErr = c.svc.Files.Create(meta).
			Media(bytes.NewReader(data), googleapi.ContentType(mimeType)).
			Fields("id, webViewLink").
			Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, c.wrap(fmt.Errorf("upload %s: %w", name, err))
	}
	if created.Id == "" {
		return nil, fmt.Errorf("upload %s: no file id returned", name)
	}
	return &UploadResult{FileID: created.Id, ViewURL: created.WebViewLink}, nil
}

// GrantPublicRead makes the file readable by anyone with the link.
func (c *Client) GrantPublicRead(ctx context.Context, fileID string) error {
	perm := &driveapi.Permission{Role: "reader", Type: "anyone"}
	err := c.Policy.Do(ctx, func() error {
		_, callErr := c.svc.Permissions.Create(fileID, perm).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return c.wrap(fmt.Errorf("grant public read on %s: %w", fileID, err))
	}
	return nil
}

// DeleteFile removes a file from the provider.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	err := c.Policy.Do(ctx, func() error {
		return c.svc.Files.Delete(fileID).Context(ctx).Do()
	})
	if err != nil {
		return c.wrap(fmt.Errorf("delete %s: %w", fileID, err))
	}
	return nil
}
