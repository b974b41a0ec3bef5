package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"classvault/internal/access"
	"classvault/internal/api/middleware"
	"classvault/internal/catalog"
	"classvault/internal/delivery"
	"classvault/internal/storage"
)

// MediaHandler 负责视频流式分发：公开营销片段与受保护正片。
type MediaHandler struct {
	catalog *catalog.Catalog
	engine  *access.Engine
	storage objectStore
	logger  *slog.Logger
}

// NewMediaHandler 构造流媒体处理器。
func NewMediaHandler(cat *catalog.Catalog, engine *access.Engine, store objectStore, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		catalog: cat,
		engine:  engine,
		storage: store,
		logger:  logger,
	}
}

// StreamMedia 分发视频。营销片段无需鉴权并带长缓存；
// 正片要求有效身份且访问判定非 Denied。支持 Range 拖动。
func (h *MediaHandler) StreamMedia(c *gin.Context) {
	kind := catalog.Kind(c.Param("entityType"))
	entityID := c.Param("entityId")
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	info, err := h.catalog.Resolve(ctx, kind, entityID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownKind):
			BadRequest(c, "unknown entity type")
		case errors.Is(err, catalog.ErrNotFound):
			NotFound(c, "entity not found")
		default:
			log.Error("resolve entity failed", slog.Any("error", err))
			Internal(c, "failed to resolve entity")
		}
		return
	}

	if !info.IsVideo() {
		BadRequest(c, "entity is not streamable")
		return
	}

	user := middleware.UserFromContext(c)
	fullAccess := false
	if user != nil {
		decision, err := h.engine.Decide(ctx, user, info)
		if err != nil {
			log.Error("access decision failed", slog.Any("error", err))
			Internal(c, "failed to check access")
			return
		}
		fullAccess = decision.Level == access.Full
	}

	// 购买者看正片；其余调用者（含匿名）回落到公开营销片段。
	// 没有正片对象键的条目对所有人只提供营销片段。
	if fullAccess && info.StorageKey != "" {
		c.Header("Cache-Control", "private, no-store")
		h.streamObject(c, info.StorageKey, info.ContentType, log)
		return
	}

	if info.MarketingKey != "" {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		h.streamObject(c, info.MarketingKey, info.ContentType, log)
		return
	}

	if user == nil {
		Unauthorized(c)
		return
	}
	ErrorWithHint(c, http.StatusForbidden, "access_denied",
		"you do not have access to this video",
		"purchase the item to unlock streaming")
}

// streamObject 以 200 或 206 输出对象。先 Stat 拿到 Size 再开流，
// 保证任何响应都有准确的 Content-Length，Range 行为跨请求一致。
func (h *MediaHandler) streamObject(c *gin.Context, objectKey, contentType string, log *slog.Logger) {
	ctx := c.Request.Context()

	meta, err := h.storage.StatObject(ctx, objectKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "asset not found")
			return
		}
		log.Error("stat object failed", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to read asset")
		return
	}

	if contentType == "" {
		contentType = meta.ContentType
	}
	c.Header("Accept-Ranges", "bytes")
	c.Header("Content-Type", contentType)

	rangeHeader := c.GetHeader("Range")
	if rangeHeader == "" {
		reader, err := h.storage.OpenRange(ctx, objectKey, 0, -1)
		if err != nil {
			log.Error("open object failed", slog.String("object_key", objectKey), slog.Any("error", err))
			Internal(c, "failed to read asset")
			return
		}
		defer reader.Close()

		c.Header("Content-Length", strconv.FormatInt(meta.Size, 10))
		c.Status(http.StatusOK)
		copyStream(c, reader, log)
		return
	}

	byteRange, err := delivery.ParseRange(rangeHeader, meta.Size)
	if err != nil {
		c.Header("Content-Range", delivery.UnsatisfiableContentRange(meta.Size))
		Error(c, http.StatusRequestedRangeNotSatisfiable, "range not satisfiable")
		return
	}

	reader, err := h.storage.OpenRange(ctx, objectKey, byteRange.Start, byteRange.End)
	if err != nil {
		log.Error("open object range failed", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to read asset")
		return
	}
	defer reader.Close()

	c.Header("Content-Range", byteRange.ContentRange(meta.Size))
	c.Header("Content-Length", strconv.FormatInt(byteRange.Length(), 10))
	c.Status(http.StatusPartialContent)
	copyStream(c, reader, log)
}

// copyStream 把对象流写入响应。头已发出后的 I/O 错误不可恢复，
// 仅记录并终止连接；客户端断开通过请求上下文取消存储读取。
func copyStream(c *gin.Context, reader io.Reader, log *slog.Logger) {
	if _, err := io.Copy(c.Writer, reader); err != nil {
		log.Warn("stream interrupted", slog.Any("error", err))
		c.Abort()
	}
}
