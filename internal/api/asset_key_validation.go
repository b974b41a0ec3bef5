package api

import (
	"strings"
	"unicode/utf8"
)

const templateAssetPrefix = "template-assets/"

func allowedAssetExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".webp":
		return true
	}
	return false
}

func isValidTemplateAssetKey(key string) bool {
	if key == "" || !utf8.ValidString(key) {
		return false
	}
	if !strings.HasPrefix(key, templateAssetPrefix) {
		return false
	}
	if strings.Contains(key, "..") || strings.Contains(key, "\\") || strings.Contains(key, "//") {
		return false
	}
	if len(key) > 200 {
		return false
	}
	dot := strings.LastIndex(key, ".")
	if dot < 0 {
		return false
	}
	return allowedAssetExt(strings.TrimSpace(key[dot:]))
}
