package drive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	driveapi "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

var (
	nameRE   = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	parentRE = regexp.MustCompile(`'([^']*)' in parents`)
)

type fakeFolder struct {
	name   string
	parent string
}

// fakeDrive implements just enough of the Drive v3 REST surface for the
// gateway: folder search/create, media upload, permission create, delete.
type fakeDrive struct {
	mu      sync.Mutex
	folders map[string]fakeFolder
	calls   []string
	nextID  int

	// failRemaining makes the next N calls answer failStatus.
	failStatus    int
	failRemaining int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{folders: map[string]fakeFolder{}}
}

func (f *fakeDrive) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeDrive) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failRemaining > 0 {
			f.failRemaining--
			http.Error(w, "temporarily unavailable", f.failStatus)
			return
		}

		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
			q := r.URL.Query().Get("q")
			name, parent := "", ""
			if m := nameRE.FindStringSubmatch(q); m != nil {
				name = strings.ReplaceAll(strings.ReplaceAll(m[1], `\'`, `'`), `\\`, `\`)
			}
			if m := parentRE.FindStringSubmatch(q); m != nil {
				parent = m[1]
			}
			f.record("list:" + name)
			var files []map[string]string
			for id, fold := range f.folders {
				if fold.name == name && fold.parent == parent {
					files = append(files, map[string]string{"id": id, "name": fold.name})
				}
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"files": files})

		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/upload/"):
			f.nextID++
			id := fmt.Sprintf("file-%d", f.nextID)
			f.record("upload:" + id)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"id":          id,
				"webViewLink": "https://drive.example/view/" + id,
			})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
			var body struct {
				Name     string   `json:"name"`
				MimeType string   `json:"mimeType"`
				Parents  []string `json:"parents"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.nextID++
			id := fmt.Sprintf("folder-%d", f.nextID)
			parent := ""
			if len(body.Parents) > 0 {
				parent = body.Parents[0]
			}
			f.folders[id] = fakeFolder{name: body.Name, parent: parent}
			f.record("create:" + body.Name)
			_ = json.NewEncoder(w).Encode(map[string]string{"id": id})

		case r.Method == http.MethodPost && strings.Contains(r.URL.Path, "/permissions"):
			var body struct {
				Role string `json:"role"`
				Type string `json:"type"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.record(fmt.Sprintf("perm:%s:%s", body.Role, body.Type))
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "perm-1"})

		case r.Method == http.MethodDelete:
			f.record("delete")
			w.WriteHeader(http.StatusNoContent)

		default:
			http.Error(w, "unexpected call "+r.Method+" "+r.URL.Path, http.StatusTeapot)
		}
	})
}

func testClient(t *testing.T, fake *fakeDrive) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	svc, err := driveapi.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	c := newClient(svc, Config{
		ServiceAccountEmail: "uploader@project.iam.gserviceaccount.com",
		RootFolderID:        "root-1",
	})
	c.Policy.InitialDelay = time.Millisecond
	c.Policy.MaxDelay = 2 * time.Millisecond
	return c
}

func TestProvisionInvoiceFolderSearchThenCreate(t *testing.T) {
	fake := newFakeDrive()
	c := testClient(t, fake)
	ts := time.Date(2025, 12, 9, 23, 15, 30, 0, time.UTC)

	id, err := c.ProvisionInvoiceFolder(context.Background(), "ST01", "Main Store", "INV-7", ts)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if id == "" {
		t.Fatalf("empty folder id")
	}
	want := []string{
		"list:ST01-Main Store", "create:ST01-Main Store",
		"list:2025-12", "create:2025-12",
		"list:INV-7_20251209_231530", "create:INV-7_20251209_231530",
	}
	if fmt.Sprint(fake.calls) != fmt.Sprint(want) {
		t.Fatalf("call sequence = %v, want %v", fake.calls, want)
	}
}

func TestProvisionInvoiceFolderIdempotent(t *testing.T) {
	fake := newFakeDrive()
	c := testClient(t, fake)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := c.ProvisionInvoiceFolder(context.Background(), "ST02", "Branch", "INV-9", ts)
	if err != nil {
		t.Fatalf("first provision: %v", err)
	}
	fake.mu.Lock()
	fake.calls = nil
	fake.mu.Unlock()

	second, err := c.ProvisionInvoiceFolder(context.Background(), "ST02", "Branch", "INV-9", ts)
	if err != nil {
		t.Fatalf("second provision: %v", err)
	}
	if first != second {
		t.Fatalf("folder ids differ: %s vs %s", first, second)
	}
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "create:") {
			t.Fatalf("second provision created a folder: %v", fake.calls)
		}
	}
}

func TestUploadFileAndGrant(t *testing.T) {
	fake := newFakeDrive()
	c := testClient(t, fake)

	res, err := c.UploadFile(context.Background(), []byte("jpeg bytes"), "before_1.jpg", "image/jpeg", "folder-x")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.FileID == "" || !strings.Contains(res.ViewURL, res.FileID) {
		t.Fatalf("bad result: %+v", res)
	}
	if err := c.GrantPublicRead(context.Background(), res.FileID); err != nil {
		t.Fatalf("grant: %v", err)
	}
	last := fake.calls[len(fake.calls)-1]
	if last != "perm:reader:anyone" {
		t.Fatalf("permission call = %q", last)
	}
}

func TestTransientFailuresAreRetried(t *testing.T) {
	fake := newFakeDrive()
	fake.failStatus = http.StatusServiceUnavailable
	fake.failRemaining = 2
	c := testClient(t, fake)

	_, err := c.ProvisionInvoiceFolder(context.Background(), "ST03", "Shop", "INV-1", time.Now())
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
}

func TestPermissionDeniedIsActionable(t *testing.T) {
	fake := newFakeDrive()
	fake.failStatus = http.StatusForbidden
	fake.failRemaining = 100
	c := testClient(t, fake)

	_, err := c.ProvisionInvoiceFolder(context.Background(), "ST04", "Shop", "INV-2", time.Now())
	var permErr *PermissionError
	if !errors.As(err, &permErr) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if !strings.Contains(permErr.Error(), "uploader@project.iam.gserviceaccount.com") {
		t.Fatalf("error not actionable: %v", permErr)
	}
}

func TestNotFoundIsDistinct(t *testing.T) {
	fake := newFakeDrive()
	fake.failStatus = http.StatusNotFound
	fake.failRemaining = 100
	c := testClient(t, fake)

	err := c.DeleteFile(context.Background(), "missing")
	var nfErr *NotFoundError
	if !errors.As(err, &nfErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ST01", "ST01"},
		{" Toko Pusat ", "Toko Pusat"},
		{`a/b\c?d*e:f|g"h<i>j`, "a-b-c-d-e-f-g-h-i-j"},
	}
	for _, c := range cases {
		if got := sanitizeName(c.in); got != c.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCredentialSelection(t *testing.T) {
	sa := Config{ServiceAccountEmail: "a@b", ServiceAccountPrivateKey: "key"}
	if creds, err := sa.credentials(); err != nil {
		t.Fatalf("service account config rejected: %v", err)
	} else if _, ok := creds.(serviceAccountCreds); !ok {
		t.Fatalf("expected service account variant, got %T", creds)
	}

	oauth := Config{ClientID: "id", ClientSecret: "sec", RefreshToken: "rt"}
	if creds, err := oauth.credentials(); err != nil {
		t.Fatalf("oauth config rejected: %v", err)
	} else if _, ok := creds.(oauthCreds); !ok {
		t.Fatalf("expected oauth variant, got %T", creds)
	}

	// service account wins when both are present
	both := sa
	both.ClientID, both.ClientSecret, both.RefreshToken = "id", "sec", "rt"
	if creds, _ := both.credentials(); creds == nil {
		t.Fatalf("combined config rejected")
	} else if _, ok := creds.(serviceAccountCreds); !ok {
		t.Fatalf("service account should take precedence, got %T", creds)
	}

	if _, err := (Config{}).credentials(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("empty config should fail with ErrNotConfigured, got %v", err)
	}
}
