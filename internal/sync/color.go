package sync

import (
	"hash/fnv"
	"strings"
)

// tagPalette is the set of colors new tags are drawn from.
var tagPalette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#eab308",
	"#84cc16", "#22c55e", "#10b981", "#14b8a6",
	"#06b6d4", "#0ea5e9", "#3b82f6", "#6366f1",
	"#8b5cf6", "#a855f7", "#d946ef", "#ec4899",
}

// TagColor picks a palette color from the tag name. Names that differ only
// in case map to the same color.
func TagColor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return tagPalette[h.Sum32()%uint32(len(tagPalette))]
}
