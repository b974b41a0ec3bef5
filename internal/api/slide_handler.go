package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"

	"classvault/internal/access"
	"classvault/internal/api/middleware"
	"classvault/internal/catalog"
	"classvault/internal/database"
	"classvault/internal/metrics"
	"classvault/internal/overlay"
	"classvault/internal/storage"
	"classvault/internal/transform"
)

// SlideHandler 负责教案幻灯片（单页 SVG）的交付。
// 与 PDF 下载不同：允许匿名访问，不可见的幻灯片返回占位图而非 403，
// 绝不返回"去保护"的真实内容。
type SlideHandler struct {
	catalog     *catalog.Catalog
	engine      *access.Engine
	storage     objectStore
	resolver    *overlay.Resolver
	users       *database.UserRepo
	logger      *slog.Logger
	frontendURL string
}

// NewSlideHandler 构造幻灯片处理器。
func NewSlideHandler(
	cat *catalog.Catalog,
	engine *access.Engine,
	store objectStore,
	resolver *overlay.Resolver,
	users *database.UserRepo,
	logger *slog.Logger,
	frontendURL string,
) *SlideHandler {
	return &SlideHandler{
		catalog:     cat,
		engine:      engine,
		storage:     store,
		resolver:    resolver,
		users:       users,
		logger:      logger,
		frontendURL: frontendURL,
	}
}

// ServeSlide 处理 GET /v1/assets/download/lesson-plan-slide/:lessonPlanId/:slideId。
func (h *SlideHandler) ServeSlide(c *gin.Context) {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)
	user := middleware.UserFromContext(c)

	planID := c.Param("lessonPlanId")
	slideID := c.Param("slideId")

	info, err := h.catalog.Resolve(ctx, catalog.KindLessonPlan, planID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			NotFound(c, "lesson plan not found")
			return
		}
		log.Error("resolve lesson plan failed", slog.Any("error", err))
		Internal(c, "failed to resolve lesson plan")
		return
	}

	decision, err := h.engine.Decide(ctx, user, info)
	if err != nil {
		log.Error("access decision failed", slog.Any("error", err))
		Internal(c, "failed to check access")
		return
	}

	switch decision.Level {
	case access.Denied:
		h.servePlaceholder(c)
		return
	case access.Preview:
		if !slideAccessible(slideID, decision.AccessiblePages) {
			h.servePlaceholder(c)
			return
		}
	}

	original, err := h.storage.DownloadToBuffer(ctx, info.SlideStorageKey(slideID))
	if err != nil {
		if storage.IsNoSuchKey(err) {
			NotFound(c, "slide not found")
			return
		}
		log.Error("download slide failed", slog.Any("error", err))
		Internal(c, "failed to read slide")
		return
	}

	req := transform.SVGRequest{Subs: h.substitutionContext(c, user, info)}
	if info.AddBranding {
		req.Branding = h.resolver.ResolveBranding(ctx, info.TargetFormat)
	}
	if decision.Level == access.Preview {
		req.Watermark = h.resolver.ResolveWatermark(ctx, info.WatermarkTemplateID, info.TargetFormat, nil)
	}

	if req.Watermark.Count() == 0 && req.Branding.Count() == 0 {
		metrics.ObserveTransform("svg", metrics.OutcomeOK)
		h.writeSVG(c, original)
		return
	}
	req.Images = h.prefetchImages(c, req.Watermark, req.Branding)

	result, err := transform.ProcessSVG(original, req, log)
	if err != nil {
		if transform.IsCorrupt(err) {
			metrics.ObserveTransform("svg", metrics.OutcomeCorrupt)
			log.Error("stored slide is corrupt", slog.String("slide_id", slideID), slog.Any("error", err))
			ErrorWithHint(c, http.StatusUnprocessableEntity, "corrupt_source",
				"the stored slide cannot be processed",
				"re-upload the lesson plan")
			return
		}
		if decision.Level == access.Full {
			metrics.ObserveTransform("svg", metrics.OutcomeFallback)
			log.Warn("svg transform failed, serving original to full-access caller", slog.Any("error", err))
			h.writeSVG(c, original)
			return
		}
		metrics.ObserveTransform("svg", metrics.OutcomeRefused)
		log.Error("svg transform failed for preview caller", slog.Any("error", err))
		Internal(c, "failed to prepare slide")
		return
	}

	metrics.ObserveTransform("svg", metrics.OutcomeOK)
	h.writeSVG(c, result)
}

func (h *SlideHandler) prefetchImages(c *gin.Context, sets ...overlay.ElementSet) map[string][]byte {
	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

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

func (h *SlideHandler) servePlaceholder(c *gin.Context) {
	h.writeSVG(c, []byte(transform.PlaceholderSlideSVG))
}

func (h *SlideHandler) writeSVG(c *gin.Context, data []byte) {
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, "image/svg+xml", data)
}

func (h *SlideHandler) substitutionContext(c *gin.Context, user *database.User, info catalog.Info) overlay.Context {
	now := time.Now()
	ctx := overlay.Context{
		Filename:    info.Title,
		Date:        now.Format("02/01/2006"),
		Time:        now.Format("15:04"),
		FrontendURL: h.frontendURL,
	}
	if user == nil {
		return ctx
	}

	email := ""
	if record, err := h.users.FindByID(c.Request.Context(), user.ID); err == nil && record != nil {
		email = record.Email
	}
	if email == "" {
		email = fmt.Sprintf("user-%d", user.ID)
	}
	ctx.User = email
	ctx.UserObj = map[string]any{"id": user.ID, "email": email}
	return ctx
}

// slideAccessible 判断幻灯片是否在允许集合内。
// 空集合表示"全部可预览"。幻灯片 ID 为其序号（从 1 开始）。
func slideAccessible(slideID string, allowed []int) bool {
	if len(allowed) == 0 {
		return true
	}
	n := 0
	for _, r := range slideID {
		if r < '0' || r > '9' {
			return false
		}
		n = n*10 + int(r-'0')
	}
	return slices.Contains(allowed, n)
}
