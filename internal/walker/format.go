package walker

import (
	"path/filepath"
	"strings"
)

// extensionToFormat maps file extensions to document formats.
var extensionToFormat = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".mdx":      "markdown",
	".txt":      "text",
	".text":     "text",
	".rst":      "restructuredtext",
	".adoc":     "asciidoc",
	".org":      "org",
	".html":     "html",
	".htm":      "html",
	".csv":      "csv",
	".tsv":      "csv",
	".json":     "json",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".xml":      "xml",
	".sql":      "sql",
	".go":       "go",
	".py":       "python",
	".js":       "javascript",
	".ts":       "typescript",
	".java":     "java",
	".rb":       "ruby",
	".sh":       "shell",
}

// filenameToFormat maps well-known extensionless files.
var filenameToFormat = map[string]string{
	"README":    "text",
	"CHANGELOG": "text",
	"LICENSE":   "text",
	"NOTICE":    "text",
}

// DetectFormat returns the document format of a file, or "" when the file
// is not a supported text document.
func DetectFormat(filename string) string {
	base := filepath.Base(filename)
	if f, ok := filenameToFormat[base]; ok {
		return f
	}
	return extensionToFormat[strings.ToLower(filepath.Ext(base))]
}
