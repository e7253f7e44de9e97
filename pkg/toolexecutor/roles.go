package toolexecutor

import (
	"fmt"
	"strings"
)

// Role is the closed set of agent capability profiles
type Role string

const (
	RoleMain    Role = "main"
	RoleExplore Role = "explore"
	RoleCode    Role = "code"
	RolePlan    Role = "plan"
)

// RoleProfile is the filter rule and prompt attached to a role
type RoleProfile struct {
	Role        Role
	Description string
	Prompt      string
	// Categories admitted by the role; nil admits every category.
	Categories []ToolCategory
}

var roleProfiles = map[Role]RoleProfile{
	RoleMain: {
		Role:        RoleMain,
		Description: "Top-level agent with every tool",
	},
	RoleExplore: {
		Role:        RoleExplore,
		Description: "Read-only agent for exploring code, finding files, searching",
		Prompt:      "You are an exploration agent. Search and analyze, but never modify files. Return a concise summary.",
		Categories:  []ToolCategory{CategoryShell, CategoryRead, CategoryKnowledge},
	},
	RoleCode: {
		Role:        RoleCode,
		Description: "Full agent for implementing features and fixing bugs",
		Prompt:      "You are a coding agent. Implement the requested changes efficiently.",
		Categories: []ToolCategory{
			CategoryRead, CategoryWrite, CategoryShell, CategoryWeb,
			CategoryPlan, CategoryKnowledge, CategoryRemote,
		},
	},
	RolePlan: {
		Role:        RolePlan,
		Description: "Planning agent for designing implementation strategies",
		Prompt:      "You are a planning agent. Analyze the codebase and output a numbered implementation plan. Do NOT make changes.",
		Categories:  []ToolCategory{CategoryShell, CategoryRead, CategoryKnowledge},
	},
}

// ParseRole resolves a role name
func ParseRole(name string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := roleProfiles[role]; !ok {
		return "", fmt.Errorf("unknown role %q (must be one of: main, %s)", name, strings.Join(roleNames(SpawnableRoles()), ", "))
	}
	return role, nil
}

// Profile returns the profile of a role
func Profile(role Role) (RoleProfile, bool) {
	p, ok := roleProfiles[role]
	return p, ok
}

// SpawnableRoles returns the roles a subagent may take, in stable order
func SpawnableRoles() []Role {
	return []Role{RoleExplore, RoleCode, RolePlan}
}

func roleNames(roles []Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}

// Admits reports whether the profile admits a tool category
func (p RoleProfile) Admits(category ToolCategory) bool {
	if p.Categories == nil {
		return true
	}
	for _, c := range p.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// Describe renders "- role: description" lines for the spawnable roles
func Describe() string {
	var b strings.Builder
	for i, role := range SpawnableRoles() {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s: %s", role, roleProfiles[role].Description)
	}
	return b.String()
}
