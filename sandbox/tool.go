package sandbox

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/blocklist"
	"github.com/teranos/peterbot/errors"
)

const (
	ToolName        = "run_code"
	DefaultLanguage = "python"

	// maxOutputRunes bounds what is fed back to the model per stream
	maxOutputRunes = 20000
)

var toolSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "language": {"type": "string", "enum": ["python", "javascript", "bash"], "description": "Defaults to python"},
    "code": {"type": "string", "description": "Complete program to run. Print results to stdout."}
  },
  "required": ["code"]
}`)

// Checker gates code before it runs
type Checker interface {
	Check(code string) blocklist.Verdict
}

// CodeTool exposes an Executor as an ai.Tool
type CodeTool struct {
	executor Executor
	checker  Checker
	logger   *zap.SugaredLogger
}

// NewCodeTool creates the tool. checker may be nil.
func NewCodeTool(executor Executor, checker Checker, logger *zap.SugaredLogger) *CodeTool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CodeTool{executor: executor, checker: checker, logger: logger}
}

// Definition implements ai.Tool
func (t *CodeTool) Definition() ai.ToolDefinition {
	return ai.ToolDefinition{
		Name:        ToolName,
		Description: "Run code in an isolated sandbox with network access and common data libraries. Use it for calculations, data processing, charts and fetching web content.",
		Parameters:  toolSchema,
	}
}

type toolArgs struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// Output is what the model sees after a run
type Output struct {
	Stdout    string     `json:"stdout"`
	Stderr    string     `json:"stderr,omitempty"`
	Error     string     `json:"error,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Warning   string     `json:"warning,omitempty"`
}

// Execute implements ai.Tool. A blocked program is reported as a tool error
// and never reaches the executor.
func (t *CodeTool) Execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var args toolArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.NewValidationError("invalid run_code arguments: %v", err)
	}
	if strings.TrimSpace(args.Code) == "" {
		return nil, errors.NewValidationError("code is required")
	}
	if args.Language == "" {
		args.Language = DefaultLanguage
	}

	var warning string
	if t.checker != nil {
		v := t.checker.Check(args.Code)
		switch v.Action {
		case blocklist.ActionBlock:
			t.logger.Warnw("Code blocked", "pattern", v.Pattern, "reason", v.Reason)
			return nil, errors.Newf("code blocked by policy: %s", v.Reason)
		case blocklist.ActionWarn:
			t.logger.Infow("Code flagged", "pattern", v.Pattern, "reason", v.Reason)
			warning = "flagged by policy: " + v.Reason
		}
	}

	res, err := t.executor.Run(ctx, Request{Language: args.Language, Code: args.Code})
	if err != nil {
		return nil, err
	}

	return Output{
		Stdout:    clip(res.Stdout),
		Stderr:    clip(res.Stderr),
		Error:     res.Error,
		Artifacts: res.Artifacts,
		Warning:   warning,
	}, nil
}

func clip(s string) string {
	r := []rune(s)
	if len(r) <= maxOutputRunes {
		return s
	}
	return string(r[:maxOutputRunes]) + "\n[output truncated]"
}
