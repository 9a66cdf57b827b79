// Package blocklist gates sandboxed code execution on regex rules read from a
// YAML file. Any problem loading the file leaves an allow-all list in place.
package blocklist

import (
	"os"
	"regexp"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/peterbot/am"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
)

// Action is the outcome of a check
type Action string

const (
	ActionAllow Action = "allow"
	ActionWarn  Action = "warn"
	ActionBlock Action = "block"
)

// Verdict explains which rule, if any, matched
type Verdict struct {
	Action  Action `json:"action"`
	Pattern string `json:"pattern,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Rule is one entry of the rules file
type Rule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
}

// File is the YAML layout
//
//	enabled: true
//	strict:
//	  - pattern: 'rm\s+-rf\s+/'
//	    reason: recursive delete of the filesystem root
//	warn:
//	  - pattern: 'requests\.post'
//	    reason: outbound POST
type File struct {
	Enabled bool   `yaml:"enabled"`
	Strict  []Rule `yaml:"strict"`
	Warn    []Rule `yaml:"warn"`
}

type compiledRule struct {
	re     *regexp.Regexp
	source string
	reason string
}

type ruleset struct {
	enabled bool
	strict  []compiledRule
	warn    []compiledRule
}

// Blocklist is safe for concurrent use; Reload swaps the rules atomically.
type Blocklist struct {
	path   string
	logger *zap.SugaredLogger
	rules  atomic.Pointer[ruleset]
}

// Load reads the rules file at path. It never fails: a missing, unreadable
// or malformed file yields an allow-all list and a log line.
func Load(path string, log *zap.SugaredLogger) *Blocklist {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Blocklist{path: path, logger: log}
	b.Reload()
	return b
}

// New builds a blocklist from an in-memory File
func New(f File, log *zap.SugaredLogger) *Blocklist {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Blocklist{logger: log}
	b.rules.Store(b.compile(f))
	return b
}

// Reload re-reads the rules file
func (b *Blocklist) Reload() {
	f, err := readFile(b.path)
	if err != nil {
		b.logger.Warnw("Blocklist unavailable, allowing all code",
			"path", b.path, logger.FieldError, err.Error())
		b.rules.Store(&ruleset{})
		return
	}

	rs := b.compile(*f)
	b.rules.Store(rs)
	b.logger.Infow("Blocklist loaded",
		"path", b.path, "enabled", rs.enabled, "strict", len(rs.strict), "warn", len(rs.warn))
}

func readFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("no blocklist path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read blocklist")
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "failed to parse blocklist")
	}
	return &f, nil
}

func (b *Blocklist) compile(f File) *ruleset {
	return &ruleset{
		enabled: f.Enabled,
		strict:  b.compileRules("strict", f.Strict),
		warn:    b.compileRules("warn", f.Warn),
	}
}

func (b *Blocklist) compileRules(section string, rules []Rule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			b.logger.Warnw("Skipping invalid blocklist pattern",
				"section", section, "pattern", r.Pattern, logger.FieldError, err.Error())
			continue
		}
		out = append(out, compiledRule{re: re, source: r.Pattern, reason: r.Reason})
	}
	return out
}

// Check classifies code. Strict rules are tried before warn rules; the first
// match wins.
func (b *Blocklist) Check(code string) Verdict {
	rs := b.rules.Load()
	if rs == nil || !rs.enabled {
		return Verdict{Action: ActionAllow}
	}

	for _, r := range rs.strict {
		if r.re.MatchString(code) {
			return Verdict{Action: ActionBlock, Pattern: r.source, Reason: r.reason}
		}
	}
	for _, r := range rs.warn {
		if r.re.MatchString(code) {
			return Verdict{Action: ActionWarn, Pattern: r.source, Reason: r.reason}
		}
	}
	return Verdict{Action: ActionAllow}
}

// Watch reloads the list whenever the rules file changes. The returned
// watcher must be stopped by the caller.
func (b *Blocklist) Watch() (*am.FileWatcher, error) {
	w, err := am.NewFileWatcher(b.path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to watch blocklist")
	}
	w.OnChange(func(string) { b.Reload() })
	w.Start()
	return w, nil
}
