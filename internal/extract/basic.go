package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// FileMetadata is the payload the built-in extractor produces. Deterministic
// for identical content: extracting the same bytes twice yields byte-identical
// JSON.
type FileMetadata struct {
	Language string     `json:"language"`
	IsTest   bool       `json:"is_test"`
	Lines    LineCounts `json:"lines"`
	Imports  []string   `json:"imports,omitempty"`
}

// LineCounts holds line count statistics for a file.
type LineCounts struct {
	Total   int `json:"total"`
	Code    int `json:"code"`
	Comment int `json:"comment"`
	Blank   int `json:"blank"`
}

// BasicExtractor is the built-in local extractor: language detection, line
// classification, and a shallow import scan. It keeps the binary useful
// without an external extraction service.
type BasicExtractor struct{}

// NewBasicExtractor creates the built-in extractor.
func NewBasicExtractor() *BasicExtractor {
	return &BasicExtractor{}
}

// Extract implements Extractor.
func (e *BasicExtractor) Extract(ctx context.Context, path string, content []byte) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := FileMetadata{
		Language: detectLanguage(path),
		IsTest:   isTestFile(path),
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		meta.Lines.Total++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			meta.Lines.Blank++
		case isCommentLine(line, path):
			meta.Lines.Comment++
		default:
			meta.Lines.Code++
		}

		if imp, ok := scanImport(line, meta.Language); ok {
			meta.Imports = append(meta.Imports, imp)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", path, err)
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata for %s: %w", path, err)
	}
	return payload, nil
}

// detectLanguage maps a file extension to a language name.
func detectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".php":
		return "php"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "unknown"
	}
}

// isCommentLine determines if a line is a comment based on language.
func isCommentLine(line, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".go", ".js", ".ts", ".tsx", ".jsx", ".c", ".cpp", ".h", ".java", ".rs", ".php":
		return strings.HasPrefix(line, "//") || strings.HasPrefix(line, "/*") || strings.HasPrefix(line, "*")
	case ".py", ".rb", ".sh":
		return strings.HasPrefix(line, "#")
	default:
		return false
	}
}

// isTestFile determines if a file is a test file.
func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, "_test.go") ||
		strings.HasSuffix(base, ".test.ts") ||
		strings.HasSuffix(base, ".test.js") ||
		strings.HasSuffix(base, ".spec.ts") ||
		strings.HasSuffix(base, ".spec.js") ||
		strings.HasPrefix(base, "test_") && strings.HasSuffix(base, ".py")
}

// scanImport extracts an import target from a single line, best effort.
// This is a shallow scan, not a parse; good enough for index metadata.
func scanImport(line, language string) (string, bool) {
	switch language {
	case "go":
		if strings.HasPrefix(line, `import "`) {
			return strings.Trim(strings.TrimPrefix(line, "import "), `"`), true
		}
		if strings.HasPrefix(line, `"`) && strings.HasSuffix(line, `"`) && !strings.Contains(line, " ") {
			return strings.Trim(line, `"`), true
		}
	case "python":
		if strings.HasPrefix(line, "import ") {
			return strings.Fields(strings.TrimPrefix(line, "import "))[0], true
		}
		if strings.HasPrefix(line, "from ") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				return fields[1], true
			}
		}
	case "typescript", "javascript":
		if strings.HasPrefix(line, "import ") {
			if idx := strings.LastIndex(line, " from "); idx >= 0 {
				target := strings.Trim(strings.TrimSuffix(strings.TrimSpace(line[idx+6:]), ";"), `'"`)
				return target, true
			}
		}
	case "c", "cpp":
		if strings.HasPrefix(line, "#include") {
			target := strings.Trim(strings.TrimSpace(strings.TrimPrefix(line, "#include")), `<>"`)
			return target, true
		}
	}
	return "", false
}
