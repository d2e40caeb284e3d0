package agents

import (
	"fmt"
	"strings"
)

// Context values round-trip through JSON storage, so typed reads have to
// tolerate the decoded shapes ([]any, float64, ...).

func ctxStr(jobContext map[string]any, key, def string) string {
	v, ok := jobContext[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

func ctxInt(jobContext map[string]any, key string, def int) int {
	v, ok := jobContext[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

func ctxStrings(jobContext map[string]any, key string) []string {
	v, ok := jobContext[key]
	if !ok || v == nil {
		return nil
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s := strings.TrimSpace(fmt.Sprint(e)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(t, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func headings(markdown string) []string {
	var out []string
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "## ") {
			if h := strings.TrimSpace(strings.TrimPrefix(line, "## ")); h != "" {
				out = append(out, h)
			}
		}
	}
	return out
}
