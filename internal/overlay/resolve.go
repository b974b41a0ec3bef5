package overlay

import (
	"context"
	"log/slog"

	"classvault/internal/database"
)

// TemplateRepository 约定模板查询能力，由 GORM 实现注入。
type TemplateRepository interface {
	FindDefault(ctx context.Context, templateType, targetFormat string) (*database.TemplateDocument, error)
	FindByID(ctx context.Context, id uint) (*database.TemplateDocument, error)
}

// Resolver 执行模板解析阶梯：显式模板 → 格式默认模板 → 实体级覆盖。
type Resolver struct {
	repo   TemplateRepository
	logger *slog.Logger
}

// NewResolver 构造模板解析器。
func NewResolver(repo TemplateRepository, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{repo: repo, logger: logger}
}

// ResolveBranding 返回指定格式的品牌叠加元素集。
// 没有默认品牌模板时返回空集，不视为错误。
func (r *Resolver) ResolveBranding(ctx context.Context, targetFormat string) ElementSet {
	tmpl, err := r.repo.FindDefault(ctx, database.TemplateTypeBranding, targetFormat)
	if err != nil {
		r.logger.Warn("resolve branding template failed, skipping branding",
			slog.String("target_format", targetFormat),
			slog.Any("error", err),
		)
		return ElementSet{}
	}
	if tmpl == nil {
		return ElementSet{}
	}
	return r.parse(tmpl.TemplateData, "branding", targetFormat)
}

// ResolveWatermark 返回水印叠加元素集。
// 解析顺序：实体的 watermark_settings 覆盖最优先，其次显式模板 ID，
// 最后回落到格式默认模板。任何一步失败都降级为"无水印"而非中断响应。
func (r *Resolver) ResolveWatermark(ctx context.Context, explicitID *uint, targetFormat string, override []byte) ElementSet {
	if len(override) > 0 {
		set, err := ParseElementSet(override)
		if err == nil && set.Count() > 0 {
			return set
		}
		if err != nil {
			r.logger.Warn("parse watermark override failed, falling back to template",
				slog.Any("error", err),
			)
		}
	}

	if explicitID != nil {
		tmpl, err := r.repo.FindByID(ctx, *explicitID)
		if err != nil {
			r.logger.Warn("resolve explicit watermark template failed, trying default",
				slog.Uint64("template_id", uint64(*explicitID)),
				slog.Any("error", err),
			)
		} else if tmpl != nil && tmpl.TemplateType == database.TemplateTypeWatermark {
			return r.parse(tmpl.TemplateData, "watermark", targetFormat)
		}
	}

	tmpl, err := r.repo.FindDefault(ctx, database.TemplateTypeWatermark, targetFormat)
	if err != nil {
		r.logger.Warn("resolve default watermark template failed, skipping watermark",
			slog.String("target_format", targetFormat),
			slog.Any("error", err),
		)
		return ElementSet{}
	}
	if tmpl == nil {
		return ElementSet{}
	}
	return r.parse(tmpl.TemplateData, "watermark", targetFormat)
}

func (r *Resolver) parse(data []byte, templateType, targetFormat string) ElementSet {
	set, err := ParseElementSet(data)
	if err != nil {
		r.logger.Warn("parse template data failed, skipping overlay",
			slog.String("template_type", templateType),
			slog.String("target_format", targetFormat),
			slog.Any("error", err),
		)
		return ElementSet{}
	}
	return set
}

// BuildUnifiedSet 构建单次渲染使用的统一元素集：
// 先追加水印元素，再把品牌元素追加到相同的类型键数组上，
// 然后对全部 content/href 执行一次变量替换。
func BuildUnifiedSet(watermark, branding ElementSet, ctx Context) ElementSet {
	var unified ElementSet
	unified.Append(watermark)
	unified.Append(branding)
	unified.Normalize()
	unified.SubstituteAll(ctx)
	return unified
}
