// Package persona assembles the system prompt from a fixed base block and
// the optional personality and memory files kept beside the config.
package persona

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/teranos/peterbot/errors"
)

// Base is the fixed persona block every prompt starts with
const Base = `You are Peter, a personal assistant bot working for one person.
Answer directly and concisely. Prefer plain text over markdown tables; replies are read in a chat app.
When a task needs computation, data processing or fetching from the web, use the run_code tool instead of guessing.
If you cannot complete a task, say what blocked you.`

const (
	PersonalityFile = "personality.md"
	MemoryFile      = "memory.md"
)

// Blocks are the optional text blocks appended to Base
type Blocks struct {
	Personality string
	Memory      string
}

// Source supplies the current blocks
type Source interface {
	Blocks() Blocks
}

// Static is a fixed Source
type Static Blocks

func (s Static) Blocks() Blocks { return Blocks(s) }

// BuildSystemPrompt joins the base block, the non-empty optional blocks and
// the current date.
func BuildSystemPrompt(b Blocks, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(Base)

	if p := strings.TrimSpace(b.Personality); p != "" {
		sb.WriteString("\n\n## Personality\n")
		sb.WriteString(p)
	}
	if m := strings.TrimSpace(b.Memory); m != "" {
		sb.WriteString("\n\n## What you remember about the user\n")
		sb.WriteString(m)
	}

	sb.WriteString("\n\nCurrent date: ")
	sb.WriteString(now.Format("Monday, 2 January 2006 15:04 MST"))
	return sb.String()
}

// Files reads personality.md and memory.md from a directory on every call,
// so edits apply to the next prompt without a restart.
type Files struct {
	Dir string
	// OnError is told about unreadable files; missing files are not errors
	OnError func(path string, err error)
}

// Blocks implements Source
func (f *Files) Blocks() Blocks {
	return Blocks{
		Personality: f.read(PersonalityFile),
		Memory:      f.read(MemoryFile),
	}
}

func (f *Files) read(name string) string {
	if f.Dir == "" {
		return ""
	}
	path := filepath.Join(f.Dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && f.OnError != nil {
			f.OnError(path, err)
		}
		return ""
	}
	return string(data)
}
