package access

import (
	"context"
	"log/slog"
	"time"

	"classvault/internal/catalog"
	"classvault/internal/database"
)

// Level 表示访问判定结果。
type Level int

const (
	// Denied 拒绝访问。
	Denied Level = iota
	// Preview 允许水印预览，可能附带可访问页集合。
	Preview
	// Full 完整访问。
	Full
)

// String 实现 fmt.Stringer，用于日志与审计。
func (l Level) String() string {
	switch l {
	case Full:
		return "full"
	case Preview:
		return "preview"
	default:
		return "denied"
	}
}

// Decision 是单次请求的访问判定，绝不跨请求缓存：
// 购买状态随时可能变化。
type Decision struct {
	Level Level
	// AccessiblePages 仅在 Preview 下有意义。
	// 空集合表示全部页面可在水印下预览，不做额外删减。
	AccessiblePages []int
}

// ProductRepository 约定产品只读查询。
type ProductRepository interface {
	FindByTypeAndEntity(ctx context.Context, productType, entityID string) (*database.Product, error)
}

// PurchaseRepository 约定购买记录查询与免费授权写入。
// FindOrCreateFree 是判定路径上唯一的写操作，隔离成独立端口，
// 让判定核心保持纯函数便于测试。
type PurchaseRepository interface {
	FindCompletedForUser(ctx context.Context, userID uint) ([]database.Purchase, error)
	FindOrCreateFree(ctx context.Context, userID uint, purchasableType, purchasableID string) (*database.Purchase, error)
}

// Engine 针对 (用户, 实体) 计算访问级别。
type Engine struct {
	products  ProductRepository
	purchases PurchaseRepository
	logger    *slog.Logger
	now       func() time.Time

	// OnFreeGrant 在免费授权落库成功后回调（用于通知推送）。可为 nil。
	OnFreeGrant func(ctx context.Context, userID uint, entityType, entityID string)
}

// NewEngine 构造访问判定引擎。
func NewEngine(products ProductRepository, purchases PurchaseRepository, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		products:  products,
		purchases: purchases,
		logger:    logger,
		now:       time.Now,
	}
}

// Decide 计算用户对实体的访问级别。user 为 nil 表示匿名请求。
// 全部查询都是单次读取，不做重试；免费授权的副作用失败只记日志，
// 绝不让访问判定本身失败。
func (e *Engine) Decide(ctx context.Context, user *database.User, info catalog.Info) (Decision, error) {
	entityType := string(info.Kind)

	if user.IsPlatformAdmin() {
		return Decision{Level: Full}, nil
	}

	product, err := e.products.FindByTypeAndEntity(ctx, entityType, info.ID)
	if err != nil {
		return Decision{}, err
	}

	if user != nil && product != nil {
		if product.CreatorUserID == user.ID {
			return Decision{Level: Full}, nil
		}

		if product.PriceAgorot == 0 {
			e.grantFree(ctx, user.ID, entityType, info.ID)
			return Decision{Level: Full}, nil
		}

		purchases, err := e.purchases.FindCompletedForUser(ctx, user.ID)
		if err != nil {
			return Decision{}, err
		}
		now := e.now()
		for i := range purchases {
			p := &purchases[i]
			if p.PurchasableType == entityType && p.PurchasableID == info.ID && p.Active(now) {
				return Decision{Level: Full}, nil
			}
		}
	}

	if info.AllowPreview {
		return Decision{Level: Preview, AccessiblePages: info.AccessiblePages}, nil
	}

	return Decision{Level: Denied}, nil
}

// grantFree 幂等落库零金额购买记录。失败记日志并继续，判定结果不受影响。
func (e *Engine) grantFree(ctx context.Context, userID uint, entityType, entityID string) {
	if _, err := e.purchases.FindOrCreateFree(ctx, userID, entityType, entityID); err != nil {
		e.logger.Error("auto free purchase failed, access still granted",
			slog.Uint64("user_id", uint64(userID)),
			slog.String("entity_type", entityType),
			slog.String("entity_id", entityID),
			slog.Any("error", err),
		)
		return
	}
	if e.OnFreeGrant != nil {
		e.OnFreeGrant(ctx, userID, entityType, entityID)
	}
}
