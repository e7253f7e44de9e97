package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// FileName is the skill definition inside each skill directory
const FileName = "SKILL.md"

// MaxFileSize bounds one SKILL.md (1MB)
const MaxFileSize = 1 << 20

var frontmatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)

// resourceDirs are listed as hints after a skill body, in this order
var resourceDirs = []struct{ dir, label string }{
	{"scripts", "Scripts"},
	{"references", "References"},
	{"assets", "Assets"},
}

// Skill is one loaded SKILL.md
type Skill struct {
	Name        string
	Description string
	Body        string
	// Dir is the skill's directory, holding optional resources
	Dir string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Loader scans a skills directory. It is safe for concurrent use and may be
// reloaded while tools read from it.
type Loader struct {
	dir    string
	logger zerolog.Logger

	mu     sync.RWMutex
	skills map[string]Skill
}

// NewLoader creates a loader for dir. Call Load to scan it.
func NewLoader(dir string, logger zerolog.Logger) *Loader {
	return &Loader{
		dir:    dir,
		logger: logger.With().Str("component", "skills").Logger(),
		skills: make(map[string]Skill),
	}
}

// Dir returns the scanned directory
func (l *Loader) Dir() string {
	return l.dir
}

// Load replaces the loaded set with the valid skills found in <dir>/*/SKILL.md.
// A missing directory yields no skills. Invalid files are skipped.
func (l *Loader) Load() error {
	loaded := make(map[string]Skill)

	entries, err := os.ReadDir(l.dir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read skills directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(l.dir, entry.Name(), FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		skill, err := parseSkillFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping invalid skill")
			continue
		}
		if prev, dup := loaded[skill.Name]; dup {
			l.logger.Warn().Str("name", skill.Name).Str("kept", prev.Dir).Str("skipped", skill.Dir).Msg("Duplicate skill name")
			continue
		}
		loaded[skill.Name] = skill
	}

	l.mu.Lock()
	l.skills = loaded
	l.mu.Unlock()

	l.logger.Debug().Int("skills", len(loaded)).Str("dir", l.dir).Msg("Skills loaded")
	return nil
}

// Get returns a loaded skill by name
func (l *Loader) Get(name string) (Skill, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.skills[name]
	return s, ok
}

// Names returns the loaded skill names sorted
func (l *Loader) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]string, 0, len(l.skills))
	for name := range l.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptions renders "- name: description" lines for the system prompt
func (l *Loader) Descriptions() string {
	names := l.Names()
	if len(names) == 0 {
		return "(no skills available)"
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	lines := make([]string, 0, len(names))
	for _, name := range names {
		if s, ok := l.skills[name]; ok {
			lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
		}
	}
	return strings.Join(lines, "\n")
}

// Content renders the full body of a skill plus its resource hints
func (l *Loader) Content(name string) (string, bool) {
	skill, ok := l.Get(name)
	if !ok {
		return "", false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Skill: %s\n\n%s", skill.Name, skill.Body)

	var resources []string
	for _, rd := range resourceDirs {
		files := listFiles(filepath.Join(skill.Dir, rd.dir))
		if len(files) > 0 {
			resources = append(resources, fmt.Sprintf("%s: %s", rd.label, strings.Join(files, ", ")))
		}
	}
	if len(resources) > 0 {
		fmt.Fprintf(&b, "\n\n**Available resources in %s:**\n", skill.Dir)
		for _, r := range resources {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	return b.String(), true
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files
}

func parseSkillFile(path string) (Skill, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Skill{}, err
	}
	if info.Size() > MaxFileSize {
		return Skill{}, fmt.Errorf("file size %d exceeds maximum %d", info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	skill, err := parseSkill(string(data))
	if err != nil {
		return Skill{}, err
	}
	skill.Dir = filepath.Dir(path)
	return skill, nil
}

// parseSkill splits frontmatter and body. Name and description are required.
func parseSkill(content string) (Skill, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	m := frontmatterPattern.FindStringSubmatch(content)
	if m == nil {
		return Skill{}, fmt.Errorf("missing frontmatter")
	}

	meta, err := parseFrontmatter(m[1])
	if err != nil {
		return Skill{}, err
	}
	if meta.Name == "" {
		return Skill{}, fmt.Errorf("frontmatter is missing name")
	}
	if meta.Description == "" {
		return Skill{}, fmt.Errorf("frontmatter is missing description")
	}

	return Skill{
		Name:        meta.Name,
		Description: meta.Description,
		Body:        strings.TrimSpace(m[2]),
	}, nil
}

// parseFrontmatter reads YAML, falling back to plain "key: value" lines for
// values YAML rejects, such as unquoted colons.
func parseFrontmatter(raw string) (frontmatter, error) {
	var meta frontmatter
	if err := yaml.Unmarshal([]byte(raw), &meta); err == nil {
		meta.Name = strings.TrimSpace(meta.Name)
		meta.Description = strings.TrimSpace(meta.Description)
		return meta, nil
	}

	meta = frontmatter{}
	found := false
	for _, line := range strings.Split(raw, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "name":
			meta.Name, found = value, true
		case "description":
			meta.Description, found = value, true
		}
	}
	if !found {
		return frontmatter{}, fmt.Errorf("invalid frontmatter")
	}
	return meta, nil
}
