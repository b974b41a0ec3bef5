package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"classvault/internal/api/middleware"
	"classvault/internal/catalog"
	"classvault/internal/database"
	"classvault/internal/overlay"
)

// TemplateHandler 负责品牌/水印模板的管理 API 与编辑器预览。
// 写接口仅平台管理员可用；默认模板切换走事务性的先清后设。
type TemplateHandler struct {
	repo        *database.TemplateRepo
	users       *database.UserRepo
	catalog     *catalog.Catalog
	resolver    *overlay.Resolver
	logger      *slog.Logger
	frontendURL string
}

// NewTemplateHandler 构造模板处理器。
func NewTemplateHandler(
	repo *database.TemplateRepo,
	users *database.UserRepo,
	cat *catalog.Catalog,
	resolver *overlay.Resolver,
	logger *slog.Logger,
	frontendURL string,
) *TemplateHandler {
	return &TemplateHandler{
		repo:        repo,
		users:       users,
		catalog:     cat,
		resolver:    resolver,
		logger:      logger,
		frontendURL: frontendURL,
	}
}

type templateRequest struct {
	Name         string         `json:"name" binding:"required"`
	TemplateType string         `json:"template_type" binding:"required"`
	TargetFormat string         `json:"target_format" binding:"required"`
	TemplateData datatypes.JSON `json:"template_data" binding:"required"`
}

type templateListItem struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	TemplateType string `json:"template_type"`
	TargetFormat string `json:"target_format"`
	IsDefault    bool   `json:"is_default"`
}

type templateDetailResponse struct {
	templateListItem
	TemplateData datatypes.JSON `json:"template_data"`
}

var validTemplateTypes = map[string]bool{
	database.TemplateTypeBranding:  true,
	database.TemplateTypeWatermark: true,
}

var validTargetFormats = map[string]bool{
	database.TargetFormatPDFLandscape:  true,
	database.TargetFormatPDFPortrait:   true,
	database.TargetFormatSVGLessonPlan: true,
}

// validateTemplatePayload 校验模板字段与元素集结构。
// 空水印模板在写入时拒绝，渲染端对空集只需优雅跳过。
func validateTemplatePayload(req templateRequest) error {
	if !validTemplateTypes[req.TemplateType] {
		return errors.New("invalid template_type")
	}
	if !validTargetFormats[req.TargetFormat] {
		return errors.New("invalid target_format")
	}

	set, err := overlay.ParseElementSet(req.TemplateData)
	if err != nil {
		return errors.New("template_data is not a valid element set")
	}
	requireElements := req.TemplateType == database.TemplateTypeWatermark
	return set.Validate(requireElements)
}

// CreateTemplate 处理 POST /v1/templates。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := validateTemplatePayload(req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	tmpl := database.TemplateDocument{
		Name:         req.Name,
		TemplateType: req.TemplateType,
		TargetFormat: req.TargetFormat,
		TemplateData: req.TemplateData,
	}
	if err := h.repo.Create(c.Request.Context(), &tmpl); err != nil {
		log.Error("create template failed", slog.Any("error", err))
		Internal(c, "failed to create template")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": tmpl.ID, "name": tmpl.Name})
}

// ListTemplates 处理 GET /v1/templates，支持 type/format 过滤。
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	templates, err := h.repo.List(c.Request.Context(), c.Query("type"), c.Query("format"))
	if err != nil {
		log.Error("list templates failed", slog.Any("error", err))
		Internal(c, "failed to list templates")
		return
	}

	items := make([]templateListItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateListItem{
			ID:           t.ID,
			Name:         t.Name,
			TemplateType: t.TemplateType,
			TargetFormat: t.TargetFormat,
			IsDefault:    t.IsDefault,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GetTemplate 处理 GET /v1/templates/:id。
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	id, ok := templateIDParam(c)
	if !ok {
		return
	}

	tmpl, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		log.Error("query template failed", slog.Any("error", err))
		Internal(c, "failed to query template")
		return
	}
	if tmpl == nil {
		NotFound(c, "template not found")
		return
	}

	c.JSON(http.StatusOK, templateDetailResponse{
		templateListItem: templateListItem{
			ID:           tmpl.ID,
			Name:         tmpl.Name,
			TemplateType: tmpl.TemplateType,
			TargetFormat: tmpl.TargetFormat,
			IsDefault:    tmpl.IsDefault,
		},
		TemplateData: tmpl.TemplateData,
	})
}

// UpdateTemplate 处理 PUT /v1/templates/:id。
func (h *TemplateHandler) UpdateTemplate(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	id, ok := templateIDParam(c)
	if !ok {
		return
	}

	var req templateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if err := validateTemplatePayload(req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	tmpl, err := h.repo.FindByID(c.Request.Context(), id)
	if err != nil {
		log.Error("query template failed", slog.Any("error", err))
		Internal(c, "failed to query template")
		return
	}
	if tmpl == nil {
		NotFound(c, "template not found")
		return
	}

	tmpl.Name = req.Name
	tmpl.TemplateType = req.TemplateType
	tmpl.TargetFormat = req.TargetFormat
	tmpl.TemplateData = req.TemplateData
	if err := h.repo.Update(c.Request.Context(), tmpl); err != nil {
		log.Error("update template failed", slog.Any("error", err))
		Internal(c, "failed to update template")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": tmpl.ID})
}

// DeleteTemplate 处理 DELETE /v1/templates/:id。
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	id, ok := templateIDParam(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		log.Error("delete template failed", slog.Any("error", err))
		Internal(c, "failed to delete template")
		return
	}
	c.Status(http.StatusNoContent)
}

// SetDefaultTemplate 处理 POST /v1/templates/:id/default。
// 事务失败直接回传给管理员，不做静默降级。
func (h *TemplateHandler) SetDefaultTemplate(c *gin.Context) {
	log := middleware.LoggerFromContext(c)

	id, ok := templateIDParam(c)
	if !ok {
		return
	}
	if err := h.repo.SetDefault(c.Request.Context(), id); err != nil {
		log.Error("set default template failed", slog.Uint64("template_id", uint64(id)), slog.Any("error", err))
		Internal(c, "failed to set default template")
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "is_default": true})
}

// TemplatePreview 处理 GET /v1/assets/template-preview/:fileId。
// 返回文档"实际会被套用"的统一元素集（已完成变量替换），
// 供编辑器在不渲染文件的情况下预览。
func (h *TemplateHandler) TemplatePreview(c *gin.Context) {
	user := middleware.UserFromContext(c)
	if user == nil {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	log := middleware.LoggerFromContext(c)

	info, err := h.catalog.Resolve(ctx, catalog.KindFile, c.Param("fileId"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			NotFound(c, "file not found")
			return
		}
		log.Error("resolve file failed", slog.Any("error", err))
		Internal(c, "failed to resolve file")
		return
	}

	watermark := h.resolver.ResolveWatermark(ctx, info.WatermarkTemplateID, info.TargetFormat, info.WatermarkSettings)
	var branding overlay.ElementSet
	if info.AddBranding {
		branding = h.resolver.ResolveBranding(ctx, info.TargetFormat)
	}

	email := ""
	if record, err := h.users.FindByID(ctx, user.ID); err == nil && record != nil {
		email = record.Email
	}

	now := time.Now()
	unified := overlay.BuildUnifiedSet(watermark, branding, overlay.Context{
		Filename:    info.Title,
		User:        email,
		UserObj:     map[string]any{"id": user.ID, "email": email},
		Date:        now.Format("02/01/2006"),
		Time:        now.Format("15:04"),
		FrontendURL: h.frontendURL,
	})

	c.JSON(http.StatusOK, gin.H{
		"file_id":         info.ID,
		"target_format":   info.TargetFormat,
		"elements":        unified.Elements,
		"global_settings": unified.GlobalSettings,
	})
}

func templateIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid template id")
		return 0, false
	}
	return uint(id), true
}
