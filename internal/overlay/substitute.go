package overlay

import (
	"fmt"
	"regexp"
	"strings"
)

// Context 提供模板变量替换所需的运行时数据。
type Context struct {
	Filename    string
	User        string
	UserObj     map[string]any
	Date        string
	Time        string
	FrontendURL string
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+)*)\s*\}\}`)

// Substitute 将模板字符串中的 {{token}} 占位符替换为上下文中的值。
// 无法解析的占位符原样保留，任何输入都不会导致错误：
// 坏模板退化为可见的残缺输出，而不是中断整个响应。
func Substitute(template string, ctx Context) string {
	if template == "" || !strings.Contains(template, "{{") {
		return template
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := tokenPattern.FindStringSubmatch(match)[1]
		if value, ok := resolvePath(path, ctx); ok {
			return value
		}
		return match
	})
}

// SubstituteAll 对集合中每个元素的 content/href 执行变量替换。
func (s *ElementSet) SubstituteAll(ctx Context) {
	for key, elems := range s.Elements {
		for i := range elems {
			elems[i].Content = Substitute(elems[i].Content, ctx)
			elems[i].Href = Substitute(elems[i].Href, ctx)
		}
		s.Elements[key] = elems
	}
}

func resolvePath(path string, ctx Context) (string, bool) {
	parts := strings.Split(path, ".")

	switch parts[0] {
	case "filename":
		return ctx.Filename, len(parts) == 1
	case "date":
		return ctx.Date, len(parts) == 1
	case "time":
		return ctx.Time, len(parts) == 1
	case "FRONTEND_URL":
		return ctx.FrontendURL, len(parts) == 1
	case "user":
		if len(parts) == 1 {
			return ctx.User, true
		}
		return walkMap(ctx.UserObj, parts[1:])
	case "userObj":
		if len(parts) == 1 {
			return "", false
		}
		return walkMap(ctx.UserObj, parts[1:])
	}
	return "", false
}

// walkMap 沿点路径逐层查找；中间值缺失即短路返回未解析。
// 纯数据替换，不执行任何表达式。
func walkMap(m map[string]any, parts []string) (string, bool) {
	var current any = m
	for _, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case map[string]any, []any:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}
