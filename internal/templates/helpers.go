// Package templates holds the text/template helpers shared by notification
// bodies and operator CLI output.
package templates

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// FuncMap returns the functions available to every template.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"formatBytes":  FormatBytes,
		"formatNumber": FormatNumber,
		"formatMillis": FormatMillis,
		"formatTime":   FormatTime,
		"deref":        Deref,
	}
}

// Parse parses text as a template named name with FuncMap installed.
func Parse(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(FuncMap()).Parse(text)
}

// FormatBytes converts bytes to human-readable format
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatNumber adds comma separators to large numbers
func FormatNumber(n int64) string {
	sign := ""
	if n < 0 {
		sign, n = "-", -n
	}
	str := fmt.Sprintf("%d", n)

	var groups []string
	for len(str) > 3 {
		groups = append([]string{str[len(str)-3:]}, groups...)
		str = str[:len(str)-3]
	}
	groups = append([]string{str}, groups...)
	return sign + strings.Join(groups, ",")
}

// FormatMillis renders epoch milliseconds as RFC 3339 in UTC.
func FormatMillis(ms int64) string {
	return FormatTime(time.UnixMilli(ms))
}

func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Deref returns *s, or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
