package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"classvault/internal/database"
)

// Kind 枚举平台支持的实体种类。新增种类时在 registry 中注册加载器，
// 而不是按字符串反射查找模型类。
type Kind string

const (
	KindFile       Kind = "file"
	KindLessonPlan Kind = "lesson-plan"
	KindVideo      Kind = "video"
)

var (
	// ErrUnknownKind 表示路径中的实体种类未注册。
	ErrUnknownKind = errors.New("unknown entity kind")
	// ErrNotFound 表示实体不存在。
	ErrNotFound = errors.New("entity not found")
)

// Info 是访问判定与变换管线需要的实体视图。
type Info struct {
	Kind                Kind
	ID                  string
	Title               string
	StorageKey          string
	MarketingKey        string
	ContentType         string
	TargetFormat        string
	AllowPreview        bool
	AccessiblePages     []int
	AddBranding         bool
	WatermarkTemplateID *uint
	WatermarkSettings   []byte
	SlideCount          int
}

// IsDocument 返回实体是否为 PDF 文档。
func (i Info) IsDocument() bool { return i.Kind == KindFile }

// IsVideo 返回实体是否为流媒体。
func (i Info) IsVideo() bool { return i.Kind == KindVideo }

// SlideStorageKey 返回教案中某张幻灯片的对象键。
func (i Info) SlideStorageKey(slideID string) string {
	return fmt.Sprintf("lesson-plans/%s/slides/%s.svg", i.ID, slideID)
}

type loaderFunc func(ctx context.Context, db *gorm.DB, id string) (Info, error)

// Catalog 通过静态注册表把实体种类解析为具体加载器。
type Catalog struct {
	db       *gorm.DB
	registry map[Kind]loaderFunc
}

// New 构造实体目录。
func New(db *gorm.DB) *Catalog {
	return &Catalog{
		db: db,
		registry: map[Kind]loaderFunc{
			KindFile:       loadFile,
			KindLessonPlan: loadLessonPlan,
			KindVideo:      loadVideo,
		},
	}
}

// Resolve 返回实体视图。种类未注册返回 ErrUnknownKind，
// 实体缺失返回 ErrNotFound。
func (c *Catalog) Resolve(ctx context.Context, kind Kind, id string) (Info, error) {
	loader, ok := c.registry[kind]
	if !ok {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return loader(ctx, c.db, id)
}

// Known 返回种类是否已注册。
func (c *Catalog) Known(kind Kind) bool {
	_, ok := c.registry[kind]
	return ok
}

func loadFile(ctx context.Context, db *gorm.DB, id string) (Info, error) {
	var file database.FileEntity
	if err := db.WithContext(ctx).Where("slug = ?", id).First(&file).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Info{}, fmt.Errorf("%w: file %q", ErrNotFound, id)
		}
		return Info{}, fmt.Errorf("load file %q: %w", id, err)
	}

	targetFormat := database.TargetFormatPDFPortrait
	if file.PageOrientation == "landscape" {
		targetFormat = database.TargetFormatPDFLandscape
	}

	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	return Info{
		Kind:                KindFile,
		ID:                  file.Slug,
		Title:               file.Title,
		StorageKey:          file.StorageKey,
		ContentType:         contentType,
		TargetFormat:        targetFormat,
		AllowPreview:        file.AllowPreview,
		AccessiblePages:     parsePageList(file.AccessiblePages),
		AddBranding:         file.AddBranding,
		WatermarkTemplateID: file.WatermarkTemplateID,
		WatermarkSettings:   []byte(file.WatermarkSettings),
	}, nil
}

func loadLessonPlan(ctx context.Context, db *gorm.DB, id string) (Info, error) {
	var plan database.LessonPlan
	if err := db.WithContext(ctx).Where("slug = ?", id).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Info{}, fmt.Errorf("%w: lesson plan %q", ErrNotFound, id)
		}
		return Info{}, fmt.Errorf("load lesson plan %q: %w", id, err)
	}

	return Info{
		Kind:                KindLessonPlan,
		ID:                  plan.Slug,
		Title:               plan.Title,
		ContentType:         "image/svg+xml",
		TargetFormat:        database.TargetFormatSVGLessonPlan,
		AllowPreview:        plan.AllowPreview,
		AccessiblePages:     parsePageList(plan.AccessibleSlides),
		AddBranding:         plan.AddBranding,
		WatermarkTemplateID: plan.WatermarkTemplateID,
		SlideCount:          plan.SlideCount,
	}, nil
}

func loadVideo(ctx context.Context, db *gorm.DB, id string) (Info, error) {
	var video database.Video
	if err := db.WithContext(ctx).Where("slug = ?", id).First(&video).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Info{}, fmt.Errorf("%w: video %q", ErrNotFound, id)
		}
		return Info{}, fmt.Errorf("load video %q: %w", id, err)
	}

	contentType := video.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}

	return Info{
		Kind:         KindVideo,
		ID:           video.Slug,
		Title:        video.Title,
		StorageKey:   video.StorageKey,
		MarketingKey: video.MarketingKey,
		ContentType:  contentType,
	}, nil
}

// parsePageList 解析 JSONB 页码数组；坏数据按"未限制"处理，读取路径不报错。
func parsePageList(data []byte) []int {
	if len(data) == 0 {
		return nil
	}
	var pages []int
	if err := json.Unmarshal(data, &pages); err != nil {
		return nil
	}
	return pages
}
