package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepo 提供用户查询。水印替换需要邮箱等令牌之外的字段。
type UserRepo struct {
	db *gorm.DB
}

// NewUserRepo 构造用户仓库。
func NewUserRepo(db *gorm.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindByID 返回指定用户，无则返回 nil。
func (r *UserRepo) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("find user %d: %w", id, err)
	}
	return &user, nil
}

// TemplateRepo 提供模板文档的查询与默认模板维护。
type TemplateRepo struct {
	db *gorm.DB
}

// NewTemplateRepo 构造模板仓库。
func NewTemplateRepo(db *gorm.DB) *TemplateRepo {
	return &TemplateRepo{db: db}
}

// FindDefault 返回 (template_type, target_format) 的默认模板，无则返回 nil。
func (r *TemplateRepo) FindDefault(ctx context.Context, templateType, targetFormat string) (*TemplateDocument, error) {
	var tmpl TemplateDocument
	err := r.db.WithContext(ctx).
		Where("template_type = ? AND target_format = ? AND is_default = ?", templateType, targetFormat, true).
		First(&tmpl).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("find default template: %w", err)
	}
	return &tmpl, nil
}

// FindByID 返回指定模板，无则返回 nil。
func (r *TemplateRepo) FindByID(ctx context.Context, id uint) (*TemplateDocument, error) {
	var tmpl TemplateDocument
	err := r.db.WithContext(ctx).First(&tmpl, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("find template %d: %w", id, err)
	}
	return &tmpl, nil
}

// List 返回模板列表，templateType/targetFormat 为空表示不过滤。
func (r *TemplateRepo) List(ctx context.Context, templateType, targetFormat string) ([]TemplateDocument, error) {
	query := r.db.WithContext(ctx).Order("updated_at DESC")
	if templateType != "" {
		query = query.Where("template_type = ?", templateType)
	}
	if targetFormat != "" {
		query = query.Where("target_format = ?", targetFormat)
	}

	var templates []TemplateDocument
	if err := query.Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// Create 落库一个新模板。
func (r *TemplateRepo) Create(ctx context.Context, tmpl *TemplateDocument) error {
	if err := r.db.WithContext(ctx).Create(tmpl).Error; err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// Update 整体保存模板。
func (r *TemplateRepo) Update(ctx context.Context, tmpl *TemplateDocument) error {
	if err := r.db.WithContext(ctx).Save(tmpl).Error; err != nil {
		return fmt.Errorf("update template %d: %w", tmpl.ID, err)
	}
	return nil
}

// Delete 删除模板。删除默认模板后该组不再有默认，渲染端会降级为空集。
func (r *TemplateRepo) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&TemplateDocument{}, id).Error; err != nil {
		return fmt.Errorf("delete template %d: %w", id, err)
	}
	return nil
}

// SetDefault 将指定模板设为其 (template_type, target_format) 的默认模板。
// 先清后设在同一事务内完成，保证任一时刻每组至多一个默认模板。
// 事务失败会回滚并把错误返回给调用方（管理员操作）。
func (r *TemplateRepo) SetDefault(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tmpl TemplateDocument
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&tmpl, id).Error; err != nil {
			return fmt.Errorf("load template %d: %w", id, err)
		}

		if err := tx.Model(&TemplateDocument{}).
			Where("template_type = ? AND target_format = ? AND is_default = ?", tmpl.TemplateType, tmpl.TargetFormat, true).
			Update("is_default", false).Error; err != nil {
			return fmt.Errorf("clear previous default: %w", err)
		}

		if err := tx.Model(&tmpl).Update("is_default", true).Error; err != nil {
			return fmt.Errorf("set default template: %w", err)
		}
		return nil
	})
}

// ProductRepo 提供售卖条目的只读查询。
type ProductRepo struct {
	db *gorm.DB
}

// NewProductRepo 构造产品仓库。
func NewProductRepo(db *gorm.DB) *ProductRepo {
	return &ProductRepo{db: db}
}

// FindByTypeAndEntity 返回 (product_type, entity_id) 对应的产品，无则返回 nil。
func (r *ProductRepo) FindByTypeAndEntity(ctx context.Context, productType, entityID string) (*Product, error) {
	var product Product
	err := r.db.WithContext(ctx).
		Where("product_type = ? AND entity_id = ?", productType, entityID).
		First(&product).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("find product %s/%s: %w", productType, entityID, err)
	}
	return &product, nil
}

// PurchaseRepo 提供购买记录查询与免费授权写入。
type PurchaseRepo struct {
	db *gorm.DB
}

// NewPurchaseRepo 构造购买仓库。
func NewPurchaseRepo(db *gorm.DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

// FindCompletedForUser 返回用户全部已完成支付的购买记录。
func (r *PurchaseRepo) FindCompletedForUser(ctx context.Context, userID uint) ([]Purchase, error) {
	var purchases []Purchase
	if err := r.db.WithContext(ctx).
		Where("buyer_user_id = ? AND payment_status = ?", userID, PaymentStatusCompleted).
		Find(&purchases).Error; err != nil {
		return nil, fmt.Errorf("find purchases for user %d: %w", userID, err)
	}
	return purchases, nil
}

// FindOrCreateFree 为免费实体幂等地创建零金额已完成购买记录。
// 依赖 (buyer_user_id, purchasable_type, purchasable_id) 唯一约束，
// 并发的首次访问只会落下一行。整个操作在独立事务内执行。
func (r *PurchaseRepo) FindOrCreateFree(ctx context.Context, userID uint, purchasableType, purchasableID string) (*Purchase, error) {
	var purchase Purchase
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Where(Purchase{
			BuyerUserID:     userID,
			PurchasableType: purchasableType,
			PurchasableID:   purchasableID,
		}).Attrs(Purchase{
			PaymentStatus: PaymentStatusCompleted,
			AmountAgorot:  0,
		}).FirstOrCreate(&purchase).Error
	})
	if err != nil {
		return nil, fmt.Errorf("find or create free purchase: %w", err)
	}
	return &purchase, nil
}

// AuditRepo 持久化审计事件，由 worker 消费任务时调用。
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo 构造审计仓库。
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Create 落库一条审计记录。
func (r *AuditRepo) Create(ctx context.Context, record AuditRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("create audit record: %w", err)
	}
	return nil
}
