package publisher

import (
	"mime"
	"path/filepath"
	"strings"
)

// webContentTypes pins the types of common web assets so they do not depend
// on the mime tables of the host
var webContentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".htm":         "text/html; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".js":          "text/javascript; charset=utf-8",
	".mjs":         "text/javascript; charset=utf-8",
	".json":        "application/json",
	".map":         "application/json",
	".webmanifest": "application/manifest+json",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".webp":        "image/webp",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".wasm":        "application/wasm",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "application/xml",
}

// ContentType infers a content type from the file extension
func ContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return DefaultContentType
	}

	if ct, ok := webContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}

	return DefaultContentType
}

// CacheControl returns the cache directive for a file. HTML documents are
// revalidated on every request, every other asset is immutable.
func CacheControl(name string) string {
	if strings.HasSuffix(name, ".html") {
		return NoCache
	}

	return Immutable
}
