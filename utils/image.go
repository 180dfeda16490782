package utils

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// DecodeImage accepts a data URI ("data:image/jpeg;base64,...") or bare
// base64 and returns the image bytes and content type.
func DecodeImage(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", fmt.Errorf("empty image")
	}

	var contentType string
	payload := s
	if strings.HasPrefix(s, "data:") {
		parts := strings.SplitN(s, ",", 2)
		if len(parts) != 2 {
			return nil, "", fmt.Errorf("invalid base64 image")
		}
		meta := strings.TrimPrefix(parts[0], "data:") // "image/jpeg;base64"
		contentType = strings.SplitN(meta, ";", 2)[0] // "image/jpeg"
		payload = parts[1]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, "", fmt.Errorf("unsupported content type %q", contentType)
	}
	return data, contentType, nil
}

// ImageExtension picks a file extension for contentType.
func ImageExtension(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	// fallback: use subtype
	if parts := strings.SplitN(contentType, "/", 2); len(parts) == 2 && parts[1] != "" {
		return "." + parts[1]
	}
	return ""
}
