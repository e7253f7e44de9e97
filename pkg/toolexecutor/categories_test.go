package toolexecutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidCategory(t *testing.T) {
	tests := []struct {
		name     string
		category string
		want     bool
	}{
		{"valid read", "read", true},
		{"valid write", "write", true},
		{"valid shell", "shell", true},
		{"valid agent", "agent", true},
		{"valid knowledge", "knowledge", true},
		{"valid remote", "remote", true},
		{"invalid category", "invalid", false},
		{"empty category", "", false},
		{"case insensitive", "READ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCategory(tt.category)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAllCategories(t *testing.T) {
	categories := AllCategories()
	assert.Len(t, categories, 8)
	assert.Contains(t, categories, CategoryRead)
	assert.Contains(t, categories, CategoryWrite)
	assert.Contains(t, categories, CategoryShell)
	assert.Contains(t, categories, CategoryWeb)
	assert.Contains(t, categories, CategoryPlan)
	assert.Contains(t, categories, CategoryAgent)
	assert.Contains(t, categories, CategoryKnowledge)
	assert.Contains(t, categories, CategoryRemote)
}

func TestSpawnableRolesNeverSeeAgentTools(t *testing.T) {
	for _, role := range SpawnableRoles() {
		profile, ok := Profile(role)
		assert.True(t, ok)
		assert.False(t, profile.Admits(CategoryAgent), "role %s", role)
	}
	main, _ := Profile(RoleMain)
	assert.True(t, main.Admits(CategoryAgent))
}
