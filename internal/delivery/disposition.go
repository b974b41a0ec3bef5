package delivery

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

// AttachmentDisposition 构造附件下载的 Content-Disposition 值。
// 含非 ASCII（希伯来文）字符的文件名按 RFC 5987 输出双重形式：
// ASCII 回退 + filename*=UTF-8''<百分号编码>，保证跨浏览器正确。
func AttachmentDisposition(filename string) string {
	if isASCII(filename) {
		return fmt.Sprintf("attachment; filename=%q", filename)
	}
	fallback := asciiFallback(filename)
	encoded := url.PathEscape(filename)
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", fallback, encoded)
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// asciiFallback 把非 ASCII 字符替换为下划线，保留扩展名。
func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= unicode.MaxASCII && r >= 0x20 && r != '"' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	name := b.String()
	if strings.Trim(name, "_. ") == "" {
		ext := ""
		if dot := strings.LastIndex(s, "."); dot >= 0 && isASCII(s[dot:]) {
			ext = s[dot:]
		}
		name = "download" + ext
	}
	return name
}
