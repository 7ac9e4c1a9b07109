// Package skills loads SKILL.md documents and injects them into the
// conversation when the user mentions them by name.
//
// A skill is a directory containing a SKILL.md file whose YAML frontmatter
// declares a name and description. Skills are discovered under well-known
// roots (`.agents/skills` in the workspace plus any extra roots the host
// configures). Writing $name in a user message injects the named skill's
// full document as a system message for that turn's backend requests.
//
// The package also collects AGENTS.md project instruction files from the
// repository root down to the working directory; see ProjectDocs.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/stewardhq/steward/backend"
)

// Skill is one loaded SKILL.md document.
type Skill struct {
	Name        string
	Description string
	Body        string
	Path        string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

var nameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Parse splits a SKILL.md document into frontmatter and body. The document
// must open with a `---` fenced YAML block declaring at least a name.
func Parse(path string, data []byte) (*Skill, error) {
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		return nil, errors.Errorf("%s: missing frontmatter", path)
	}
	rest := content[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, errors.Errorf("%s: unterminated frontmatter", path)
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, errors.Wrapf(err, "%s: parsing frontmatter", path)
	}
	if fm.Name == "" {
		return nil, errors.Errorf("%s: frontmatter has no name", path)
	}
	if !nameRe.MatchString(fm.Name) {
		return nil, errors.Errorf("%s: invalid skill name %q", path, fm.Name)
	}

	body := rest[end+4:]
	body = strings.TrimPrefix(body, "\n")

	return &Skill{
		Name:        fm.Name,
		Description: fm.Description,
		Body:        strings.TrimSpace(body),
		Path:        path,
	}, nil
}

// Library holds the discovered skills, keyed by name.
type Library struct {
	skills map[string]*Skill
}

// DefaultRoot is the workspace-relative skills directory.
const DefaultRoot = ".agents/skills"

// Discover walks the given roots for */SKILL.md files. Unreadable or
// malformed documents are logged and skipped; later roots never override
// earlier ones, so workspace skills win over global ones.
func Discover(roots ...string) *Library {
	lib := &Library{skills: map[string]*Skill{}}

	for _, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(root, entry.Name(), "SKILL.md")
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			skill, err := Parse(path, data)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("skipping malformed skill")
				continue
			}
			if _, exists := lib.skills[skill.Name]; exists {
				continue
			}
			lib.skills[skill.Name] = skill
		}
	}
	return lib
}

// NewLibrary builds a library from already-parsed skills, mainly for tests.
func NewLibrary(skills ...*Skill) *Library {
	lib := &Library{skills: map[string]*Skill{}}
	for _, s := range skills {
		lib.skills[s.Name] = s
	}
	return lib
}

// Get looks a skill up by name.
func (l *Library) Get(name string) (*Skill, bool) {
	s, ok := l.skills[name]
	return s, ok
}

// Names returns the sorted skill names.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.skills))
	for name := range l.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PromptSection renders the skill index for a system prompt so the model
// knows which skills exist without loading their bodies.
func (l *Library) PromptSection() string {
	if len(l.skills) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Available skills (the user invokes them with $name):\n")
	for _, name := range l.Names() {
		fmt.Fprintf(&sb, "- $%s: %s\n", name, l.skills[name].Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var mentionRe = regexp.MustCompile(`\$([a-z0-9][a-z0-9-]*)`)

// Inject returns one system message per skill mentioned as $name in the
// user input, for that turn only. Unknown names produce nothing. It
// implements the controller's Injector interface; the controller carries
// the messages on the turn's requests without persisting them.
func (l *Library) Inject(input string) []backend.Message {
	matches := mentionRe.FindAllStringSubmatch(input, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := map[string]bool{}
	var out []backend.Message
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		skill, ok := l.skills[name]
		if !ok {
			continue
		}
		out = append(out, backend.SystemMessage(
			fmt.Sprintf("The user invoked the $%s skill. Follow this document:\n\n%s", skill.Name, skill.Body)))
	}
	return out
}
