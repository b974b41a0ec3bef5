package transform

import (
	"fmt"
	"strings"

	"classvault/internal/overlay"
)

// A4 页面尺寸（点），用于把模板中的百分比坐标换算为绝对偏移。
const (
	a4WidthPt  = 595.0
	a4HeightPt = 842.0
)

// stampSpec 描述一次 pdfcpu 盖章：文本或图片二选一。
type stampSpec struct {
	text     string
	imageKey string
	desc     string
}

// gridOffsets 是 grid 模式的 3x3 铺排位置（页面百分比）。
var gridOffsets = [][2]float64{
	{16, 16}, {50, 16}, {84, 16},
	{16, 50}, {50, 50}, {84, 50},
	{16, 84}, {50, 84}, {84, 84},
}

// scatteredOffsets 是 scattered 模式的固定伪随机位置。
// 位置固定保证同一文档的变换结果确定。
var scatteredOffsets = [][2]float64{
	{20, 25}, {65, 15}, {40, 55}, {75, 70}, {15, 80},
}

// elementStamps 把一个模板元素展开为一组盖章。
// single 模式一章，grid/scattered 按铺排位置展开。
func elementStamps(e overlay.Element, landscape bool) []stampSpec {
	positions := [][2]float64{{e.Position.X, e.Position.Y}}
	switch e.Pattern {
	case overlay.PatternGrid:
		positions = gridOffsets
	case overlay.PatternScattered:
		positions = scatteredOffsets
	}

	isImage := e.ImageKey != ""
	stamps := make([]stampSpec, 0, len(positions))
	for _, pos := range positions {
		spec := stampSpec{desc: stampDesc(e, pos[0], pos[1], landscape, isImage)}
		if isImage {
			spec.imageKey = e.ImageKey
		} else {
			text := e.Content
			if text == "" {
				text = e.Href
			}
			if strings.TrimSpace(text) == "" {
				continue
			}
			spec.text = text
		}
		stamps = append(stamps, spec)
	}
	return stamps
}

// stampDesc 构造 pdfcpu 水印描述串。
// 模板坐标系原点在左上、单位为页面百分比；PDF 原点在左下，
// 这里换算为相对 bl 锚点的点偏移。
func stampDesc(e overlay.Element, xPct, yPct float64, landscape, isImage bool) string {
	width, height := a4WidthPt, a4HeightPt
	if landscape {
		width, height = a4HeightPt, a4WidthPt
	}

	offX := xPct / 100 * width
	offY := (1 - yPct/100) * height

	parts := []string{
		"pos:bl",
		fmt.Sprintf("off:%.0f %.0f", offX, offY),
		fmt.Sprintf("rot:%.0f", e.Rotation()),
		fmt.Sprintf("op:%.2f", e.Opacity()),
	}

	if isImage {
		scale := 0.2
		if e.Style.Size != nil && *e.Style.Size > 0 {
			scale = *e.Style.Size / 100
		}
		parts = append(parts, fmt.Sprintf("scale:%.2f abs", scale))
	} else {
		points := 24.0
		if e.Style.FontSize != nil && *e.Style.FontSize > 0 {
			points = *e.Style.FontSize
		}
		color := e.Style.Color
		if !strings.HasPrefix(color, "#") {
			color = "#808080"
		}
		parts = append(parts,
			"fontname:Helvetica",
			fmt.Sprintf("points:%.0f", points),
			fmt.Sprintf("fillc:%s", color),
			"scale:1 abs",
		)
	}

	return strings.Join(parts, ", ")
}
