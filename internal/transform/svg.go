package transform

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"classvault/internal/overlay"
)

// SVGRequest 描述单张幻灯片的叠加输入。幻灯片没有页限制，
// 不可访问的幻灯片由调用方改发占位图。
type SVGRequest struct {
	Watermark overlay.ElementSet
	Branding  overlay.ElementSet
	Subs      overlay.Context
	Images    map[string][]byte
}

// ProcessSVG 把统一元素集作为分层标记注入原始 SVG。
// 注入点在闭合 </svg> 之前，文本内容经 XML 转义后写入。
func ProcessSVG(original []byte, req SVGRequest, logger *slog.Logger) ([]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}

	head := original
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
		return nil, &CorruptDocumentError{Reason: "missing <svg> root"}
	}

	closing := bytes.LastIndex(original, []byte("</svg>"))
	if closing < 0 {
		return nil, &CorruptDocumentError{Reason: "missing closing </svg>"}
	}

	unified := overlay.BuildUnifiedSet(req.Watermark, req.Branding, req.Subs)
	elements := unified.Flatten()
	if len(elements) == 0 {
		return original, nil
	}

	var markup strings.Builder
	markup.WriteString(`<g data-layer="overlay">`)
	for _, element := range elements {
		writeElementMarkup(&markup, element, req.Images, logger)
	}
	markup.WriteString("</g>")

	out := make([]byte, 0, len(original)+markup.Len())
	out = append(out, original[:closing]...)
	out = append(out, markup.String()...)
	out = append(out, original[closing:]...)
	return out, nil
}

func writeElementMarkup(w *strings.Builder, e overlay.Element, images map[string][]byte, logger *slog.Logger) {
	positions := [][2]float64{{e.Position.X, e.Position.Y}}
	switch e.Pattern {
	case overlay.PatternGrid:
		positions = gridOffsets
	case overlay.PatternScattered:
		positions = scatteredOffsets
	}

	for _, pos := range positions {
		switch {
		case e.ImageKey != "":
			imageBytes, ok := images[e.ImageKey]
			if !ok || len(imageBytes) == 0 {
				logger.Warn("overlay image missing, skipping element",
					slog.String("image_key", e.ImageKey),
				)
				return
			}
			writeImageMarkup(w, e, pos, imageBytes)
		case e.Href != "" && e.Content != "":
			fmt.Fprintf(w, `<a href="%s">`, xmlEscape(e.Href))
			writeTextMarkup(w, e, pos)
			w.WriteString("</a>")
		case e.Content != "":
			writeTextMarkup(w, e, pos)
		}
	}
}

func writeTextMarkup(w *strings.Builder, e overlay.Element, pos [2]float64) {
	size := 24.0
	if e.Style.FontSize != nil && *e.Style.FontSize > 0 {
		size = *e.Style.FontSize
	}
	color := e.Style.Color
	if color == "" {
		color = "#808080"
	}

	fmt.Fprintf(w, `<text x="%.1f%%" y="%.1f%%" font-size="%.0f" fill="%s" opacity="%.2f"`,
		pos[0], pos[1], size, xmlEscape(color), e.Opacity())
	if rot := e.Rotation(); rot != 0 {
		fmt.Fprintf(w, ` style="transform:rotate(%.0fdeg);transform-box:fill-box;transform-origin:center"`, rot)
	}
	w.WriteString(">")
	w.WriteString(xmlEscape(e.Content))
	w.WriteString("</text>")
}

func writeImageMarkup(w *strings.Builder, e overlay.Element, pos [2]float64, imageBytes []byte) {
	width := 15.0
	if e.Style.Size != nil && *e.Style.Size > 0 {
		width = *e.Style.Size
	}
	encoded := base64.StdEncoding.EncodeToString(imageBytes)
	fmt.Fprintf(w, `<image x="%.1f%%" y="%.1f%%" width="%.1f%%" opacity="%.2f" href="data:image/png;base64,%s"/>`,
		pos[0], pos[1], width, e.Opacity(), encoded)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func xmlEscape(s string) string {
	return xmlEscaper.Replace(s)
}

// PlaceholderSlideSVG 是拒绝访问的幻灯片占位图：
// 宁可发静态占位符，也不发剥离保护的真实内容。
const PlaceholderSlideSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 960 540">
  <rect width="960" height="540" fill="#f3f4f6"/>
  <rect x="330" y="200" width="300" height="140" rx="12" fill="#e5e7eb"/>
  <text x="480" y="265" text-anchor="middle" font-size="28" fill="#6b7280">תצוגה מקדימה נעולה</text>
  <text x="480" y="305" text-anchor="middle" font-size="18" fill="#9ca3af">רכשו את המערך כדי לצפות בשקופית</text>
</svg>
`
