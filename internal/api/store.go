package api

import (
	"context"
	"io"
	"time"

	"github.com/minio/minio-go/v7"

	"classvault/internal/storage"
)

// objectStore 收敛内容处理器需要的对象存储读取能力，
// 由 *storage.Client 实现。
type objectStore interface {
	StatObject(ctx context.Context, objectKey string) (storage.ObjectMeta, error)
	OpenRange(ctx context.Context, objectKey string, start, end int64) (io.ReadCloser, error)
	DownloadToBuffer(ctx context.Context, objectKey string) ([]byte, error)
}

// assetStore 收敛素材管理处理器需要的写入与签名能力。
type assetStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	ListObjects(ctx context.Context, prefix string, limit int) ([]storage.ObjectMeta, error)
	GeneratePresignedURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	GeneratePresignedURLWithParams(ctx context.Context, objectKey string, duration time.Duration, params map[string]string) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}
