package llm

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// taskPrompts are single-purpose templates loaded by name, never part of the
// persona prompt.
var taskPrompts = map[string]bool{
	"classifier.md": true,
	"relevance.md":  true,
	"extractor.md":  true,
}

type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetSystemPrompt joins the persona files (identity, soul, capabilities,
// user, then any other markdown) into the responder's system prompt.
func (pm *PromptManager) GetSystemPrompt() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %v", err)
	}

	var contents []string

	order := map[string]int{
		"identity.md":     1,
		"soul.md":         2,
		"capabilities.md": 3,
		"responder.md":    4,
		"user.md":         5,
	}

	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		if okI && okJ {
			return oi < oj
		}
		if okI {
			return true
		}
		if okJ {
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") || taskPrompts[f.Name()] {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}

	return strings.Join(contents, "\n\n---\n\n"), nil
}

// Get returns the task prompt name.md, or fallback when the manager is nil
// or the file is missing.
func (pm *PromptManager) Get(name string, fallback string) string {
	if pm == nil {
		return fallback
	}
	data, err := os.ReadFile(filepath.Join(pm.Directory, name+".md"))
	if err != nil || strings.TrimSpace(string(data)) == "" {
		return fallback
	}
	return string(data)
}
