package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"classvault/internal/access"
	"classvault/internal/api/middleware"
	"classvault/internal/audit"
	"classvault/internal/catalog"
	"classvault/internal/database"
	"classvault/internal/delivery"
	"classvault/internal/metrics"
	"classvault/internal/overlay"
	"classvault/internal/storage"
	"classvault/internal/transform"
)

// DocumentHandler 负责受保护 PDF 文档的下载与变换。
type DocumentHandler struct {
	catalog     *catalog.Catalog
	engine      *access.Engine
	storage     objectStore
	resolver    *overlay.Resolver
	auditor     *audit.Recorder
	users       *database.UserRepo
	redisClient redis.UniversalClient
	logger      *slog.Logger

	frontendURL        string
	maxDownloadsPerDay int
	allowDebugFlags    bool
}

// NewDocumentHandler 构造文档处理器。
func NewDocumentHandler(
	cat *catalog.Catalog,
	engine *access.Engine,
	store objectStore,
	resolver *overlay.Resolver,
	auditor *audit.Recorder,
	users *database.UserRepo,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
	frontendURL string,
	maxDownloadsPerDay int,
	allowDebugFlags bool,
) *DocumentHandler {
	return &DocumentHandler{
		catalog:            cat,
		engine:             engine,
		storage:            store,
		resolver:           resolver,
		auditor:            auditor,
		users:              users,
		redisClient:        redisClient,
		logger:             logger,
		frontendURL:        frontendURL,
		maxDownloadsPerDay: maxDownloadsPerDay,
		allowDebugFlags:    allowDebugFlags,
	}
}

// DownloadDocument 处理 GET /v1/assets/download/:entityType/:entityId。
// 鉴权 → 访问判定 → 模板解析 → 变量替换 → 变换 → 附件输出。
// skipBranding/skipWatermarks 仅平台管理员在调试开关打开时可用。
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	user := middleware.UserFromContext(c)
	if user == nil {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	correlationID := middleware.GetCorrelationID(c)

	kind := catalog.Kind(c.Param("entityType"))
	entityID := c.Param("entityId")

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
	if !info.IsDocument() {
		BadRequest(c, "entity does not carry a document")
		return
	}

	if over, err := h.overDownloadLimit(ctx, user.ID); err != nil {
		log.Warn("download rate check failed, allowing request", slog.Any("error", err))
	} else if over {
		Error(c, http.StatusTooManyRequests, "daily download limit reached")
		return
	}

	decision, err := h.engine.Decide(ctx, user, info)
	if err != nil {
		log.Error("access decision failed", slog.Any("error", err))
		Internal(c, "failed to check access")
		return
	}
	if decision.Level == access.Denied {
		h.auditor.Record(ctx, audit.Event{
			Kind:          audit.KindAccessDenied,
			UserID:        &user.ID,
			EntityType:    string(info.Kind),
			EntityID:      info.ID,
			Detail:        "document download denied",
			CorrelationID: correlationID,
		})
		ErrorWithHint(c, http.StatusForbidden, "access_denied",
			"you do not have access to this document",
			"purchase the item to unlock the download")
		return
	}

	original, err := h.storage.DownloadToBuffer(ctx, info.StorageKey)
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "asset not found")
			return
		}
		log.Error("download object failed", slog.String("object_key", info.StorageKey), slog.Any("error", err))
		Internal(c, "failed to read asset")
		return
	}

	skipBranding, skipWatermarks := h.debugFlags(c, user)
	subs := h.substitutionContext(c, user, info)

	req := transform.PDFRequest{
		Access:         decision,
		AddBranding:    info.AddBranding,
		SkipBranding:   skipBranding,
		SkipWatermarks: skipWatermarks,
		Subs:           subs,
		Landscape:      info.TargetFormat == database.TargetFormatPDFLandscape,
	}
	if req.AddBranding && !skipBranding {
		req.Branding = h.resolver.ResolveBranding(ctx, info.TargetFormat)
	}
	if decision.Level == access.Preview && !skipWatermarks {
		req.Watermark = h.resolver.ResolveWatermark(ctx, info.WatermarkTemplateID, info.TargetFormat, info.WatermarkSettings)
	}
	req.Images = h.prefetchImages(ctx, log, req.Watermark, req.Branding)

	result, err := transform.ProcessPDF(original, req, log)
	if err != nil {
		h.respondTransformError(c, err, user, info, correlationID)
		return
	}
	if result.FellBack {
		metrics.ObserveTransform("pdf", metrics.OutcomeFallback)
		h.auditor.Record(ctx, audit.Event{
			Kind:          audit.KindTransformFallback,
			UserID:        &user.ID,
			EntityType:    string(info.Kind),
			EntityID:      info.ID,
			Detail:        "served original bytes after transform failure",
			CorrelationID: correlationID,
		})
	} else {
		metrics.ObserveTransform("pdf", metrics.OutcomeOK)
	}

	filename := info.Title + ".pdf"
	c.Header("Content-Disposition", delivery.AttachmentDisposition(filename))
	c.Data(http.StatusOK, "application/pdf", result.Data)
}

func (h *DocumentHandler) respondTransformError(c *gin.Context, err error, user *database.User, info catalog.Info, correlationID string) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	if transform.IsCorrupt(err) {
		metrics.ObserveTransform("pdf", metrics.OutcomeCorrupt)
		log.Error("stored document is corrupt", slog.String("entity_id", info.ID), slog.Any("error", err))
		h.auditor.Record(ctx, audit.Event{
			Kind:          audit.KindCorruptSource,
			UserID:        &user.ID,
			EntityType:    string(info.Kind),
			EntityID:      info.ID,
			Detail:        err.Error(),
			CorrelationID: correlationID,
		})
		ErrorWithHint(c, http.StatusUnprocessableEntity, "corrupt_source",
			"the stored document cannot be processed",
			"re-upload the source file")
		return
	}

	metrics.ObserveTransform("pdf", metrics.OutcomeRefused)
	log.Error("pdf transform failed", slog.String("entity_id", info.ID), slog.Any("error", err))
	h.auditor.Record(ctx, audit.Event{
		Kind:          audit.KindAccessDenied,
		UserID:        &user.ID,
		EntityType:    string(info.Kind),
		EntityID:      info.ID,
		Detail:        "transform failed for non-owner: " + err.Error(),
		CorrelationID: correlationID,
	})
	ErrorWithMessage(c, http.StatusInternalServerError, "transform_failed",
		"the document could not be prepared for preview")
}

// debugFlags 读取 skipBranding/skipWatermarks 调试参数。
// 仅在配置开关打开且调用者是平台管理员时生效，其余情况静默忽略。
func (h *DocumentHandler) debugFlags(c *gin.Context, user *database.User) (skipBranding, skipWatermarks bool) {
	if !h.allowDebugFlags || !user.IsPlatformAdmin() {
		return false, false
	}
	return c.Query("skipBranding") == "true", c.Query("skipWatermarks") == "true"
}

// substitutionContext 组装模板变量上下文。userEmail 查询参数可覆盖
// 替换用的邮箱（管理员排查客户问题时使用）。
func (h *DocumentHandler) substitutionContext(c *gin.Context, user *database.User, info catalog.Info) overlay.Context {
	now := time.Now()

	email := h.lookupEmail(c, user.ID)
	if override := c.Query("userEmail"); override != "" && user.IsPlatformAdmin() {
		email = override
	}
	display := email
	if display == "" {
		display = fmt.Sprintf("user-%d", user.ID)
	}

	return overlay.Context{
		Filename: info.Title,
		User:     display,
		UserObj: map[string]any{
			"id":    user.ID,
			"email": email,
		},
		Date:        now.Format("02/01/2006"),
		Time:        now.Format("15:04"),
		FrontendURL: h.frontendURL,
	}
}

// prefetchImages 拉取元素引用的图片对象。缺失的图片记警告后跳过，
// 渲染继续进行。
func (h *DocumentHandler) prefetchImages(ctx context.Context, log *slog.Logger, sets ...overlay.ElementSet) map[string][]byte {
	images := map[string][]byte{}
	for _, set := range sets {
		for _, element := range set.Flatten() {
			if element.ImageKey == "" {
				continue
			}
			if _, done := images[element.ImageKey]; done {
				continue
			}
			data, err := h.storage.DownloadToBuffer(ctx, element.ImageKey)
			if err != nil {
				log.Warn("prefetch overlay image failed",
					slog.String("image_key", element.ImageKey),
					slog.Any("error", err),
				)
				continue
			}
			images[element.ImageKey] = data
		}
	}
	return images
}

// lookupEmail 回查用户邮箱。令牌里只有 ID 与角色，
// 查询失败按空邮箱降级，替换输出为通用称呼。
func (h *DocumentHandler) lookupEmail(c *gin.Context, userID uint) string {
	record, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil || record == nil {
		if err != nil {
			middleware.LoggerFromContext(c).Warn("lookup user for substitution failed", slog.Any("error", err))
		}
		return ""
	}
	return record.Email
}

func (h *DocumentHandler) overDownloadLimit(ctx context.Context, userID uint) (bool, error) {
	if h.maxDownloadsPerDay <= 0 || h.redisClient == nil {
		return false, nil
	}
	key := fmt.Sprintf("download_count:%d:%s", userID, time.Now().Format("2006-01-02"))
	count, err := incrWithTTL(ctx, h.redisClient, key, 24*time.Hour)
	if err != nil {
		return false, err
	}
	return count > int64(h.maxDownloadsPerDay), nil
}
