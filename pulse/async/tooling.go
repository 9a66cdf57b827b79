package async

import (
	"strings"

	"github.com/teranos/peterbot/ai"
)

// codeKeywords suggest the input needs computation or fetching
var codeKeywords = []string{
	"csv", "chart", "plot", "calculate", "scrape", "json", "api call", "fetch",
	"analyze", "analyse", "spreadsheet", "excel", "download", "data", "script",
	"code", "graph",
}

// NeedsCodeTool reports whether input mentions any code keyword, case-insensitively.
// Substring matching is intended: "database" and "dataset" both count.
func NeedsCodeTool(input string) bool {
	lower := strings.ToLower(input)
	for _, kw := range codeKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ToolsFor returns the tools to offer the model for input
func ToolsFor(input string, codeTool ai.Tool) []ai.Tool {
	if codeTool == nil || !NeedsCodeTool(input) {
		return nil
	}
	return []ai.Tool{codeTool}
}
