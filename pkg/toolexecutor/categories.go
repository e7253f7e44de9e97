package toolexecutor

import "strings"

// ToolCategory groups tools by the kind of effect they have
type ToolCategory string

const (
	CategoryRead      ToolCategory = "read"
	CategoryWrite     ToolCategory = "write"
	CategoryShell     ToolCategory = "shell"
	CategoryWeb       ToolCategory = "web"
	CategoryPlan      ToolCategory = "plan"
	CategoryAgent     ToolCategory = "agent"
	CategoryKnowledge ToolCategory = "knowledge"
	CategoryRemote    ToolCategory = "remote"
)

// AllCategories returns all valid tool categories
func AllCategories() []ToolCategory {
	return []ToolCategory{
		CategoryRead,
		CategoryWrite,
		CategoryShell,
		CategoryWeb,
		CategoryPlan,
		CategoryAgent,
		CategoryKnowledge,
		CategoryRemote,
	}
}

// IsValidCategory checks if a category is valid
func IsValidCategory(category string) bool {
	cat := ToolCategory(strings.ToLower(category))
	for _, valid := range AllCategories() {
		if cat == valid {
			return true
		}
	}
	return false
}

// ParseCategory normalizes a configured category name
func ParseCategory(category string) (ToolCategory, bool) {
	if !IsValidCategory(category) {
		return "", false
	}
	return ToolCategory(strings.ToLower(category)), true
}
