package fetch

import (
	"mime"
	"net/url"
	"path"
	"strings"
)

// commonExtensions maps the MIME types the boards actually serve to the
// extension the extraction router expects. mime.ExtensionsByType is the
// fallback but its first entry varies by platform.
var commonExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tiff",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"application/zip": ".zip",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/x-hwp":  ".hwp",
	"application/x-hwpx": ".hwpx",
	"application/haansofthwp":  ".hwp",
	"application/haansofthwpx": ".hwpx",
}

// resolveFilename applies the resolution ladder: Content-Disposition
// (plain or RFC 5987 encoded) → proxy path hint → URL path → a
// MIME-derived "document.<ext>" fallback.
func resolveFilename(contentDisposition, proxyHint, resolvedURL, contentType string) string {
	if name := filenameFromDisposition(contentDisposition); name != "" {
		return name
	}
	if proxyHint != "" {
		return proxyHint
	}
	if name := filenameFromURLPath(resolvedURL); name != "" {
		return name
	}
	return "document" + extFromMIME(contentType)
}

// filenameFromDisposition extracts the filename parameter.
// mime.ParseMediaType already decodes the RFC 5987 filename* form.
func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	name = strings.Trim(name, `"`)
	// Headers sometimes carry a full path; keep the base only
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// filenameFromURLPath takes the last path segment when it looks like a
// file, meaning it carries an extension.
func filenameFromURLPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || !strings.Contains(base, ".") {
		return ""
	}
	if decoded, err := url.PathUnescape(base); err == nil {
		base = decoded
	}
	return base
}

// extFromMIME maps a content type to a file extension, or "" when the
// type is unknown.
func extFromMIME(contentType string) string {
	if contentType == "" {
		return ""
	}
	if ext, ok := commonExtensions[contentType]; ok {
		return ext
	}
	exts, err := mime.ExtensionsByType(contentType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

// mediaType strips parameters like charset from a Content-Type header.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return strings.TrimSpace(strings.Split(header, ";")[0])
	}
	return mt
}
