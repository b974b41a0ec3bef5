package overlay

import (
	"encoding/json"
	"fmt"
	"sort"
)

// 元素类型键是开放的字符串集合，这里列出内置模板使用的几种。
const (
	ElementTypeLogo          = "logo"
	ElementTypeCopyright     = "copyright-text"
	ElementTypeFreeText      = "free-text"
	ElementTypeURL           = "url"
	ElementTypeUserInfo      = "user-info"
	ElementTypeWatermarkText = "watermark-text"
	ElementTypeWatermarkLogo = "watermark-logo"
)

// 水印铺排模式。
const (
	PatternSingle    = "single"
	PatternGrid      = "grid"
	PatternScattered = "scattered"
)

// Position 表示元素在页面上的位置，取值为页面宽高的百分比（0–100）。
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style 描述元素的视觉样式。未列出的字段在读取时被忽略。
type Style struct {
	Opacity  *float64 `json:"opacity,omitempty"`  // 0–100
	Rotation *float64 `json:"rotation,omitempty"` // 角度
	Size     *float64 `json:"size,omitempty"`     // 仅 logo 使用
	Color    string   `json:"color,omitempty"`
	FontSize *float64 `json:"fontSize,omitempty"`
}

// Element 表示模板中的单个叠加元素。
// Visible/Deletable 缺省视为 true，由 Normalize 补全，读取路径绝不报错。
type Element struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Visible   *bool    `json:"visible,omitempty"`
	Deletable *bool    `json:"deletable,omitempty"`
	Position  Position `json:"position"`
	Style     Style    `json:"style"`
	Content   string   `json:"content,omitempty"`
	Href      string   `json:"href,omitempty"`
	ImageKey  string   `json:"imageKey,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

// IsVisible 返回元素是否参与渲染。
func (e *Element) IsVisible() bool {
	return e.Visible == nil || *e.Visible
}

// Opacity 返回 0–1 范围的不透明度，缺省为 1。
func (e *Element) Opacity() float64 {
	if e.Style.Opacity == nil {
		return 1
	}
	v := *e.Style.Opacity / 100
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Rotation 返回旋转角度，缺省为 0。
func (e *Element) Rotation() float64 {
	if e.Style.Rotation == nil {
		return 0
	}
	return *e.Style.Rotation
}

// ElementSet 按元素类型键组织模板元素。
type ElementSet struct {
	Elements       map[string][]Element `json:"elements"`
	GlobalSettings map[string]any       `json:"globalSettings,omitempty"`
}

// ParseElementSet 解析 JSONB 模板数据并补全缺省字段。
func ParseElementSet(data []byte) (ElementSet, error) {
	var set ElementSet
	if len(data) == 0 {
		return set, nil
	}
	if err := json.Unmarshal(data, &set); err != nil {
		return ElementSet{}, fmt.Errorf("parse element set: %w", err)
	}
	set.Normalize()
	return set, nil
}

// Normalize 补全缺省的 visible/deletable/pattern 字段。
// 读取路径的防御性修复：历史数据缺字段时不报错。
func (s *ElementSet) Normalize() {
	if s.Elements == nil {
		s.Elements = map[string][]Element{}
	}
	truth := true
	for key, elems := range s.Elements {
		for i := range elems {
			if elems[i].Visible == nil {
				elems[i].Visible = &truth
			}
			if elems[i].Deletable == nil {
				elems[i].Deletable = &truth
			}
			if elems[i].Pattern == "" {
				elems[i].Pattern = PatternSingle
			}
			if elems[i].Type == "" {
				elems[i].Type = key
			}
		}
		s.Elements[key] = elems
	}
}

// Append 将 other 的元素逐类型键追加到当前集合。
// 合并顺序即渲染顺序：先加入的元素先被绘制。
func (s *ElementSet) Append(other ElementSet) {
	if s.Elements == nil {
		s.Elements = map[string][]Element{}
	}
	for key, elems := range other.Elements {
		s.Elements[key] = append(s.Elements[key], elems...)
	}
}

// Count 返回全部数组中的元素总数。
func (s *ElementSet) Count() int {
	n := 0
	for _, elems := range s.Elements {
		n += len(elems)
	}
	return n
}

// Flatten 按类型键字典序返回全部可见元素，保证渲染顺序确定。
func (s *ElementSet) Flatten() []Element {
	keys := make([]string, 0, len(s.Elements))
	for key := range s.Elements {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var result []Element
	for _, key := range keys {
		for _, e := range s.Elements[key] {
			if e.IsVisible() {
				result = append(result, e)
			}
		}
	}
	return result
}

// Validate 在写入时校验模板数据。
// requireElements 对应水印模板：空水印在保存时拒绝，渲染时容忍。
func (s *ElementSet) Validate(requireElements bool) error {
	if requireElements && s.Count() == 0 {
		return fmt.Errorf("template must contain at least one element")
	}
	for key, elems := range s.Elements {
		seen := make(map[string]struct{}, len(elems))
		for _, e := range elems {
			if e.ID == "" {
				return fmt.Errorf("element in %q is missing an id", key)
			}
			if _, dup := seen[e.ID]; dup {
				return fmt.Errorf("duplicate element id %q in %q", e.ID, key)
			}
			seen[e.ID] = struct{}{}
			if e.Type == "" {
				return fmt.Errorf("element %q in %q is missing a type", e.ID, key)
			}
			switch e.Pattern {
			case "", PatternSingle, PatternGrid, PatternScattered:
			default:
				return fmt.Errorf("element %q has unknown pattern %q", e.ID, e.Pattern)
			}
			if e.Style.Opacity != nil && (*e.Style.Opacity < 0 || *e.Style.Opacity > 100) {
				return fmt.Errorf("element %q opacity must be within 0-100", e.ID)
			}
		}
	}
	return nil
}
