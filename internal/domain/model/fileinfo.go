package model

import (
	"fmt"
	"time"
)

// FileInfo describes an uploaded file; it feeds the metadata roles.
type FileInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	Type       string `json:"type"`
	URL        string `json:"url"`
	UploadTime string `json:"upload_time"`
}

// FormatSize renders a byte count as "N B", "x.xx KB" or "x.xx MB".
func FormatSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * 1024
	)
	switch {
	case bytes < kb:
		return fmt.Sprintf("%d B", bytes)
	case bytes < mb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/kb)
	default:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	}
}

// FormatUploadTime renders t in loc the way upload timestamps are displayed.
func FormatUploadTime(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006/01/02 15:04:05")
}
