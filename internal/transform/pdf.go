package transform

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"classvault/internal/access"
	"classvault/internal/overlay"
)

var pdfMagic = []byte("%PDF-")

// PDFRequest 描述一次 PDF 变换的全部输入。
// Images 为预取的图片元素内容，键为元素的 imageKey；
// 缺失的图片元素会被跳过并告警，不中断渲染。
type PDFRequest struct {
	Access         access.Decision
	AddBranding    bool
	SkipBranding   bool
	SkipWatermarks bool
	Watermark      overlay.ElementSet
	Branding       overlay.ElementSet
	Subs           overlay.Context
	Landscape      bool
	Images         map[string][]byte
}

// PDFResult 携带变换输出与降级信息。
type PDFResult struct {
	Data []byte
	// FellBack 表示变换失败后向完整访问者回退了原始字节。
	FellBack bool
	// Restricted/Overlaid 供调用方记录与测试断言。
	Restricted bool
	Overlaid   bool
}

// ProcessPDF 按三个独立门控组合变换 PDF：
// 预览页限制、品牌叠加、水印叠加。统一元素集只构建与替换一次，
// 然后整体合成到（可能已裁页的）文档上。三个门控都不满足时原样透传。
//
// 失败语义：损坏的输入对任何访问级别都返回 CorruptDocumentError；
// 其余变换失败在完整访问下回退为原始字节（告警），
// 预览访问下返回 ErrUnsafeToServe，绝不泄露未加保护的内容。
func ProcessPDF(original []byte, req PDFRequest, logger *slog.Logger) (PDFResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	restrict := req.Access.Level == access.Preview && len(req.Access.AccessiblePages) > 0
	brand := req.AddBranding && !req.SkipBranding
	water := req.Access.Level == access.Preview && !req.SkipWatermarks

	if !restrict && !brand && !water {
		return PDFResult{Data: original}, nil
	}

	if !bytes.HasPrefix(original, pdfMagic) {
		return PDFResult{}, &CorruptDocumentError{Reason: "missing %PDF header"}
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(original), conf); err != nil {
		return PDFResult{}, &CorruptDocumentError{Reason: "validation failed", Err: err}
	}

	result, err := transformPDF(original, req, restrict, brand, water, conf, logger)
	if err != nil {
		if IsCorrupt(err) {
			return PDFResult{}, err
		}
		if req.Access.Level == access.Full {
			// 完整访问者允许拿到未变换的原件，前提是文件头完好。
			logger.Warn("pdf transform failed, serving original to full-access caller",
				slog.Any("error", err),
			)
			return PDFResult{Data: original, FellBack: true}, nil
		}
		return PDFResult{}, fmt.Errorf("%w: %v", ErrUnsafeToServe, err)
	}
	return result, nil
}

func transformPDF(original []byte, req PDFRequest, restrict, brand, water bool, conf *model.Configuration, logger *slog.Logger) (PDFResult, error) {
	current := original
	result := PDFResult{}

	if restrict {
		trimmed, err := restrictPages(current, req.Access.AccessiblePages, conf)
		if err != nil {
			return PDFResult{}, err
		}
		current = trimmed
		result.Restricted = true
	}

	var watermark, branding overlay.ElementSet
	if water {
		watermark = req.Watermark
	}
	if brand {
		branding = req.Branding
	}
	unified := overlay.BuildUnifiedSet(watermark, branding, req.Subs)

	// 空的合并集合（例如校验前落库的空水印模板）直接跳过叠加。
	for _, element := range unified.Flatten() {
		for _, stamp := range elementStamps(element, req.Landscape) {
			stamped, err := applyStamp(current, stamp, req.Images, conf, logger)
			if err != nil {
				return PDFResult{}, err
			}
			if stamped != nil {
				current = stamped
				result.Overlaid = true
			}
		}
	}

	result.Data = current
	return result, nil
}

// restrictPages 只保留可访问页（0 基索引），按升序输出。
// 全部页码越界视为变换失败，交由上层的回退阶梯处理。
func restrictPages(data []byte, pages []int, conf *model.Configuration) ([]byte, error) {
	total, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &CorruptDocumentError{Reason: "page count failed", Err: err}
	}

	selected := selectPages(pages, total)
	if len(selected) == 0 {
		return nil, fmt.Errorf("no accessible pages within document (%d pages)", total)
	}

	// api.Trim 逐个解析选择串元素，页码必须一项一个。
	var buf bytes.Buffer
	if err := api.Trim(bytes.NewReader(data), &buf, selected, conf); err != nil {
		return nil, fmt.Errorf("trim pages: %w", err)
	}
	return buf.Bytes(), nil
}

// selectPages 把 0 基页码表转换为 pdfcpu 的 1 基选择串，
// 越界页码静默丢弃，保留调用方给出的顺序。
func selectPages(pages []int, total int) []string {
	selected := make([]string, 0, len(pages))
	for _, page := range pages {
		if page < 0 || page >= total {
			continue
		}
		selected = append(selected, strconv.Itoa(page+1))
	}
	return selected
}

func applyStamp(data []byte, stamp stampSpec, images map[string][]byte, conf *model.Configuration, logger *slog.Logger) ([]byte, error) {
	var wm *model.Watermark
	var err error

	if stamp.imageKey != "" {
		imageBytes, ok := images[stamp.imageKey]
		if !ok || len(imageBytes) == 0 {
			logger.Warn("stamp image missing, skipping element",
				slog.String("image_key", stamp.imageKey),
			)
			return nil, nil
		}
		wm, err = api.ImageWatermarkForReader(bytes.NewReader(imageBytes), stamp.desc, true, false, types.POINTS)
	} else {
		wm, err = api.TextWatermark(stamp.text, stamp.desc, true, false, types.POINTS)
	}
	if err != nil {
		return nil, fmt.Errorf("build watermark: %w", err)
	}

	var buf bytes.Buffer
	if err := api.AddWatermarks(bytes.NewReader(data), &buf, nil, wm, conf); err != nil {
		return nil, fmt.Errorf("apply watermark: %w", err)
	}
	return buf.Bytes(), nil
}
