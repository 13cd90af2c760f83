package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// File is one discovered feed file with its effective timestamp.
type File struct {
	Path      string
	Timestamp time.Time
}

// Feed filenames normally embed their creation time, e.g.
// "deals_2026-08-31_0600.txt".
var filenameTimeRegex = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})_(\d{2})(\d{2})`)

// Find lists the .txt feed files in dir whose filename timestamp is at or
// after cutoff, newest first. Filenames without a parseable timestamp are
// always included; their modification time serves only as a sort key.
func Find(dir string, cutoff time.Time) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed directory %s: %w", dir, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}

		ts, ok := timestampFromName(entry.Name())
		if ok {
			if ts.Before(cutoff) {
				continue
			}
		} else {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			ts = info.ModTime()
		}
		files = append(files, File{Path: filepath.Join(dir, entry.Name()), Timestamp: ts})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Timestamp.After(files[j].Timestamp)
	})
	return files, nil
}

func timestampFromName(name string) (time.Time, bool) {
	m := filenameTimeRegex.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02 1504", fmt.Sprintf("%s-%s-%s %s%s", m[1], m[2], m[3], m[4], m[5]))
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
