package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// personaMeta is the YAML frontmatter of an agent's IDENTITY.md.
type personaMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// loadPersona reads <workspace>/IDENTITY.md and returns the system prompt
// for the agent. The file may start with a YAML frontmatter block delimited
// by "---" lines; the remainder is the prompt body. A missing file yields a
// minimal default prompt.
func loadPersona(workspace, agentName string) string {
	data, err := os.ReadFile(filepath.Join(workspace, "IDENTITY.md"))
	if err != nil {
		return fmt.Sprintf("You are %s, a helpful personal assistant.", agentName)
	}

	content := string(data)
	meta, body := splitFrontmatter(content)

	name := meta.Name
	if name == "" {
		name = agentName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.", name)
	if meta.Description != "" {
		b.WriteString(" " + strings.TrimSpace(meta.Description))
	}
	if body != "" {
		b.WriteString("\n\n" + body)
	}
	return b.String()
}

// splitFrontmatter separates an optional leading "---" YAML block from the
// markdown body. Malformed YAML is ignored and the whole file becomes body.
func splitFrontmatter(content string) (personaMeta, string) {
	var meta personaMeta

	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return meta, strings.TrimSpace(content)
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "---" {
			continue
		}
		block := strings.Join(lines[1:i], "\n")
		if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
			return personaMeta{}, strings.TrimSpace(content)
		}
		return meta, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
	}
	return meta, strings.TrimSpace(content)
}
