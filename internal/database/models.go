package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 用户角色常量。platform-admin 对任何实体都拥有完整访问权。
const (
	RoleMember        = "member"
	RolePlatformAdmin = "platform-admin"
)

// 支付状态常量。只有 completed 的购买记录才授予访问权。
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusRefunded  = "refunded"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	Email        string `gorm:"index;size:255"`
	PasswordHash string `gorm:"size:255"`
	Role         string `gorm:"size:32;default:member"`
}

// IsPlatformAdmin 判断账号是否为平台管理员。
func (u *User) IsPlatformAdmin() bool {
	return u != nil && u.Role == RolePlatformAdmin
}

// Product 表示某个实体的售卖条目。
// 同一 (product_type, entity_id) 至多存在一条记录。
type Product struct {
	gorm.Model
	ProductType   string `gorm:"size:64;uniqueIndex:idx_product_entity"`
	EntityID      string `gorm:"size:64;uniqueIndex:idx_product_entity"`
	CreatorUserID uint   `gorm:"index"`
	PriceAgorot   int
}

// Purchase 表示一次购买授权。
// (buyer_user_id, purchasable_type, purchasable_id) 唯一，
// 免费实体的自动授权依赖该约束实现 find-or-create 幂等。
type Purchase struct {
	gorm.Model
	BuyerUserID     uint   `gorm:"uniqueIndex:idx_purchase_buyer_entity"`
	PurchasableType string `gorm:"size:64;uniqueIndex:idx_purchase_buyer_entity"`
	PurchasableID   string `gorm:"size:64;uniqueIndex:idx_purchase_buyer_entity"`
	PaymentStatus   string `gorm:"size:32;index"`
	AmountAgorot    int
	AccessExpiresAt *time.Time
}

// Active 判断购买记录当前是否授予访问权。
// AccessExpiresAt 为 nil 表示永久有效。
func (p *Purchase) Active(now time.Time) bool {
	if p.PaymentStatus != PaymentStatusCompleted {
		return false
	}
	return p.AccessExpiresAt == nil || p.AccessExpiresAt.After(now)
}

// 模板类型与目标格式常量。
const (
	TemplateTypeBranding  = "branding"
	TemplateTypeWatermark = "watermark"

	TargetFormatPDFLandscape  = "pdf-a4-landscape"
	TargetFormatPDFPortrait   = "pdf-a4-portrait"
	TargetFormatSVGLessonPlan = "svg-lessonplan"
)

// TemplateDocument 表示品牌或水印叠加模板。
// 每个 (template_type, target_format) 至多一条 is_default=true 记录，
// 由 SetDefaultTemplate 在事务内先清后设维护。
type TemplateDocument struct {
	gorm.Model
	Name         string         `gorm:"size:255"`
	TemplateType string         `gorm:"size:32;index:idx_template_kind"`
	TargetFormat string         `gorm:"size:32;index:idx_template_kind"`
	IsDefault    bool           `gorm:"default:false"`
	TemplateData datatypes.JSON `gorm:"type:jsonb"`
}

// FileEntity 表示可购买的 PDF 文档。
type FileEntity struct {
	gorm.Model
	Slug                string         `gorm:"uniqueIndex;size:64"`
	Title               string         `gorm:"size:255"`
	StorageKey          string         `gorm:"size:512"`
	ContentType         string         `gorm:"size:128"`
	PageOrientation     string         `gorm:"size:16;default:portrait"`
	AllowPreview        bool           `gorm:"default:false"`
	AccessiblePages     datatypes.JSON `gorm:"type:jsonb"` // JSONB 存储整型页码数组
	AddBranding         bool           `gorm:"default:false"`
	WatermarkTemplateID *uint
	WatermarkSettings   datatypes.JSON `gorm:"type:jsonb"`
}

// LessonPlan 表示由多张 SVG 幻灯片组成的教案。
type LessonPlan struct {
	gorm.Model
	Slug                string         `gorm:"uniqueIndex;size:64"`
	Title               string         `gorm:"size:255"`
	SlideCount          int
	AllowPreview        bool           `gorm:"default:false"`
	AccessibleSlides    datatypes.JSON `gorm:"type:jsonb"`
	AddBranding         bool           `gorm:"default:false"`
	WatermarkTemplateID *uint
}

// Video 表示流媒体内容。MarketingKey 非空时该视频有公开的营销片段。
type Video struct {
	gorm.Model
	Slug         string `gorm:"uniqueIndex;size:64"`
	Title        string `gorm:"size:255"`
	StorageKey   string `gorm:"size:512"`
	MarketingKey string `gorm:"size:512"`
	ContentType  string `gorm:"size:128;default:video/mp4"`
}

// AuditRecord 表示由 worker 持久化的审计事件。
// 损坏文档、降级回退与拒绝访问分别使用不同的 Kind，互不混淆。
type AuditRecord struct {
	gorm.Model
	Kind          string `gorm:"size:64;index"`
	UserID        *uint  `gorm:"index"`
	EntityType    string `gorm:"size:64"`
	EntityID      string `gorm:"size:64"`
	Detail        string `gorm:"size:1024"`
	CorrelationID string `gorm:"size:64"`
}
