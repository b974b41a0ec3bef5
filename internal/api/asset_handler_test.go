package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"

	"classvault/internal/storage"
)

func newMultipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func TestUploadAsset_RejectsUnsupportedExtension(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &AssetHandler{}
	body, contentType := newMultipartUpload(t, "payload.exe", []byte("MZ"))
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.UploadAsset(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestUploadAsset_MissingFile(t *testing.T) {
	gin.SetMode(gin.TestMode)

	h := &AssetHandler{}
	req := httptest.NewRequest(http.MethodPost, "/v1/assets/upload", nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	h.UploadAsset(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestIsValidTemplateAssetKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"template-assets/logo.png", true},
		{"template-assets/a/b.jpeg", true},
		{"template-assets/stamp.WEBP", true},
		{"user-assets/1/logo.png", false},
		{"template-assets/../secrets.png", false},
		{"template-assets//double.png", false},
		{"template-assets/noext", false},
		{"template-assets/script.svg", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isValidTemplateAssetKey(tc.key); got != tc.want {
			t.Errorf("isValidTemplateAssetKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

// fakeAssetStore 用内存记录模拟素材存储的管理操作。
type fakeAssetStore struct {
	deleted    []string
	lastParams map[string]string
}

func (s *fakeAssetStore) UploadFile(_ context.Context, objectName string, _ io.Reader, _ int64, _ string) (*minio.UploadInfo, error) {
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeAssetStore) ListObjects(_ context.Context, _ string, _ int) ([]storage.ObjectMeta, error) {
	return nil, nil
}

func (s *fakeAssetStore) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://minio.local/" + objectKey + "?signed=1", nil
}

func (s *fakeAssetStore) GeneratePresignedURLWithParams(_ context.Context, objectKey string, _ time.Duration, params map[string]string) (string, error) {
	s.lastParams = params
	return "https://minio.local/" + objectKey + "?signed=1&disposition=1", nil
}

func (s *fakeAssetStore) DeleteObject(_ context.Context, objectKey string) error {
	s.deleted = append(s.deleted, objectKey)
	return nil
}

func assetRequest(t *testing.T, h *AssetHandler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(method, target, nil)
	switch method {
	case http.MethodDelete:
		h.DeleteAsset(c)
	default:
		h.GetAssetURL(c)
	}
	// gin buffers c.Status until the router flushes it; handlers invoked
	// directly on a test context never flush bodiless responses.
	c.Writer.WriteHeaderNow()
	return w
}

func TestDeleteAssetMissingKey(t *testing.T) {
	h := &AssetHandler{Storage: &fakeAssetStore{}, Logger: slog.Default()}
	w := assetRequest(t, h, http.MethodDelete, "/v1/assets/delete")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteAssetRejectsForeignKey(t *testing.T) {
	h := &AssetHandler{Storage: &fakeAssetStore{}, Logger: slog.Default()}
	w := assetRequest(t, h, http.MethodDelete, "/v1/assets/delete?key=files/protected.pdf")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestDeleteAssetRemovesObject(t *testing.T) {
	store := &fakeAssetStore{}
	h := &AssetHandler{Storage: store, Logger: slog.Default()}
	w := assetRequest(t, h, http.MethodDelete, "/v1/assets/delete?key=template-assets/logo.png")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d body=%s", w.Code, w.Body.String())
	}
	if len(store.deleted) != 1 || store.deleted[0] != "template-assets/logo.png" {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestGetAssetURLDownloadSignsDisposition(t *testing.T) {
	store := &fakeAssetStore{}
	h := &AssetHandler{Storage: store, Logger: slog.Default()}
	w := assetRequest(t, h, http.MethodGet, "/v1/assets/url?key=template-assets/logo.png&download=true")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	disposition := store.lastParams["response-content-disposition"]
	if !strings.Contains(disposition, "attachment") || !strings.Contains(disposition, "logo.png") {
		t.Errorf("response-content-disposition = %q", disposition)
	}
}
