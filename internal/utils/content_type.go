package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

var textExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
	".yaml":     true,
	".yml":      true,
	".toml":     true,
	".json":     true,
	".canvas":   true,
	".csv":      true,
}

// DetectContentType guesses a mime type from the file extension.
func DetectContentType(key string) string {
	if IsTextLike(key) {
		return "text/plain; charset=utf-8"
	} else if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func IsTextLike(key string) bool {
	return textExtensions[strings.ToLower(filepath.Ext(key))]
}

func IsMarkdown(key string) bool {
	ext := strings.ToLower(filepath.Ext(key))
	return ext == ".md" || ext == ".markdown"
}
