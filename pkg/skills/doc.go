// Package skills loads SKILL.md knowledge files and exposes them through the
// Skill tool.
//
// Each skill lives in <dir>/<name>/SKILL.md: YAML frontmatter with name and
// description between --- markers, then a Markdown body. Only descriptions
// go into the system prompt; the body is returned when the model loads the
// skill. A Watcher reloads the set when files change.
package skills
