package conflict

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/inaiurai/orchestrator/internal/models"
)

func TestRegisterFileActivity_NewPathLocksWithoutConflict(t *testing.T) {
	m := New()
	agent := uuid.New()
	task := uuid.New()

	conflicts := m.RegisterFileActivity(agent, task, []string{"src/app.go"}, "feature/x")
	require.Empty(t, conflicts)

	safe, potential := m.CheckTaskAssignment([]string{"src/app.go"}, uuid.New())
	require.False(t, safe)
	require.Equal(t, []string{"src/app.go"}, potential)
}

func TestRegisterFileActivity_SameBranchConflictIsHighSeverity(t *testing.T) {
	m := New()
	first := uuid.New()
	second := uuid.New()
	task := uuid.New()

	m.RegisterFileActivity(first, task, []string{"src/app.go"}, "feature/x")
	conflicts := m.RegisterFileActivity(second, task, []string{"src/app.go"}, "feature/x")

	require.Len(t, conflicts, 1)
	require.Equal(t, models.SeverityHigh, conflicts[0].Severity)
	require.ElementsMatch(t, []uuid.UUID{first, second}, conflicts[0].Agents)
}

func TestRegisterFileActivity_CriticalFileIsHighSeverityEvenOnDifferentBranch(t *testing.T) {
	m := New()
	first := uuid.New()
	second := uuid.New()
	task := uuid.New()

	m.RegisterFileActivity(first, task, []string{"package.json"}, "feature/a")
	conflicts := m.RegisterFileActivity(second, task, []string{"package.json"}, "feature/b")

	require.Len(t, conflicts, 1)
	require.Equal(t, models.SeverityHigh, conflicts[0].Severity)
}

func TestRegisterFileActivity_TestFileIsLowSeverityAcrossBranches(t *testing.T) {
	m := New()
	first := uuid.New()
	second := uuid.New()
	task := uuid.New()

	m.RegisterFileActivity(first, task, []string{"src/app.test.ts"}, "feature/a")
	conflicts := m.RegisterFileActivity(second, task, []string{"src/app.test.ts"}, "feature/b")

	require.Len(t, conflicts, 1)
	require.Equal(t, models.SeverityLow, conflicts[0].Severity)
}

func TestReleaseAgentLocks_IsIdempotentAndFreesOtherAgent(t *testing.T) {
	m := New()
	agent := uuid.New()
	task := uuid.New()

	m.RegisterFileActivity(agent, task, []string{"src/app.go"}, "feature/x")
	m.ReleaseAgentLocks(agent)
	m.ReleaseAgentLocks(agent) // idempotent

	safe, potential := m.CheckTaskAssignment([]string{"src/app.go"}, uuid.New())
	require.True(t, safe)
	require.Empty(t, potential)
}

func TestDetectFeatureOverlap_FlagsDirectoryWithMultipleAgents(t *testing.T) {
	m := New()
	a1 := uuid.New()
	a2 := uuid.New()
	task := uuid.New()

	m.RegisterFileActivity(a1, task, []string{"src/auth/login.go"}, "feature/a")
	m.RegisterFileActivity(a2, task, []string{"src/auth/logout.go"}, "feature/b")

	overlap := m.DetectFeatureOverlap()
	require.Contains(t, overlap, "src/auth")
	require.ElementsMatch(t, []uuid.UUID{a1, a2}, overlap["src/auth"])
}

func TestHistory_RecordsConflictsInOrder(t *testing.T) {
	m := New()
	task := uuid.New()
	holder := uuid.New()

	m.RegisterFileActivity(holder, task, []string{"a.go"}, "b1")
	m.RegisterFileActivity(uuid.New(), task, []string{"a.go"}, "b2")
	m.RegisterFileActivity(uuid.New(), task, []string{"a.go"}, "b3")

	hist := m.History()
	require.Len(t, hist, 2)
	require.Equal(t, []string{"a.go"}, hist[0].Files)
}
