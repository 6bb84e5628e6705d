package state

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncodeHash packs files into a URL-safe string suitable for a URL
// fragment.
func EncodeHash(files map[string]string) (string, error) {
	data, err := json.Marshal(files)
	if err != nil {
		return "", fmt.Errorf("failed to encode files: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeHash reverses EncodeHash. A leading "#" is ignored, as is padding.
func DecodeHash(s string) (map[string]string, error) {
	s = strings.TrimRight(strings.TrimPrefix(strings.TrimSpace(s), "#"), "=")
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hash: %w", err)
	}
	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("invalid hash payload: %w", err)
	}
	if files == nil {
		files = make(map[string]string)
	}
	return files, nil
}
