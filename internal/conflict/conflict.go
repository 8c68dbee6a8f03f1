// Package conflict implements the file-lock conflict monitor of spec.md
// §4.7: two in-memory mappings (path -> lock, agent -> paths), a severity
// and recommendation heuristic, bounded conflict history, feature-overlap
// detection, and the pre-dispatch assignment gate. In-process only (file
// locks never cross a process boundary per the design notes), guarded by a
// single mutex the same way the state store's memory backend owns each key
// space with one lock.
package conflict

import (
	"container/ring"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inaiurai/orchestrator/internal/models"
)

// historySize bounds the conflict-event ring buffer (the same container/ring
// structure as the notification bus's bounded history in internal/notify,
// which holds 100 events).
const historySize = 200

// staleLockAge is the threshold past which an existing lock's holder is
// called out as possibly stale (spec.md §4.7).
const staleLockAge = 30 * time.Minute

var (
	criticalFilePattern = regexp.MustCompile(`(^|/)(package\.json|package-lock\.json|\.env.*|config\.[^/]+|schema\.[^/]+|migration[^/]*)$`)
	testFilePattern     = regexp.MustCompile(`\.(test|spec)\.[jt]sx?$`)
)

// Monitor tracks file locks and derives conflict events as agents register
// activity on overlapping paths.
type Monitor struct {
	mu sync.Mutex

	locks      map[string]*models.FileLock  // path -> holder
	byAgent    map[uuid.UUID]map[string]bool // agent -> held paths
	history    *ring.Ring
	historyLen int
}

// New constructs an empty Monitor.
func New() *Monitor {
	return &Monitor{
		locks:   make(map[string]*models.FileLock),
		byAgent: make(map[uuid.UUID]map[string]bool),
		history: ring.New(historySize),
	}
}

// RegisterFileActivity locks every path in files not already held by a
// different agent to agentID, and returns a conflict event for each path
// that was already held elsewhere.
func (m *Monitor) RegisterFileActivity(agentID, taskID uuid.UUID, files []string, branch string) []models.ConflictEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var conflicts []models.ConflictEvent

	for _, file := range files {
		existing, held := m.locks[file]
		if !held {
			m.lockPath(agentID, taskID, file, branch, now)
			continue
		}
		if existing.HoldingAgent == agentID {
			continue
		}

		severity := m.severity(existing, file, branch)
		recommendation := m.recommendation(existing, file, now)

		event := models.ConflictEvent{
			Type:           "potential",
			Files:          []string{file},
			Agents:         []uuid.UUID{existing.HoldingAgent, agentID},
			Severity:       severity,
			Recommendation: recommendation,
			OccurredAt:     now,
		}
		conflicts = append(conflicts, event)
		m.appendHistory(event)
	}

	return conflicts
}

func (m *Monitor) lockPath(agentID, taskID uuid.UUID, file, branch string, now time.Time) {
	lock := &models.FileLock{Path: file, HoldingAgent: agentID, TaskID: taskID, Branch: branch, LockedAt: now}
	m.locks[file] = lock
	if m.byAgent[agentID] == nil {
		m.byAgent[agentID] = make(map[string]bool)
	}
	m.byAgent[agentID][file] = true
}

func (m *Monitor) severity(existing *models.FileLock, file, branch string) string {
	if existing.Branch == branch || criticalFilePattern.MatchString(file) {
		return models.SeverityHigh
	}
	if testFilePattern.MatchString(file) {
		return models.SeverityLow
	}
	return models.SeverityMedium
}

func (m *Monitor) recommendation(existing *models.FileLock, file string, now time.Time) string {
	if now.Sub(existing.LockedAt) > staleLockAge {
		return "existing lock is over 30 minutes old, check whether the holding agent is still active"
	}
	base := path.Base(file)
	if strings.Contains(base, "index") || strings.Contains(base, "main") {
		return "entrypoint file, recommend sequentialising this work instead of running in parallel"
	}
	return "advise the newcomer to wait for the existing holder to release the lock"
}

func (m *Monitor) appendHistory(event models.ConflictEvent) {
	m.history.Value = event
	m.history = m.history.Next()
	if m.historyLen < historySize {
		m.historyLen++
	}
}

// History returns the bounded conflict-event history, oldest first.
func (m *Monitor) History() []models.ConflictEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.ConflictEvent, 0, m.historyLen)
	r := m.history
	for i := 0; i < historySize; i++ {
		if r.Value != nil {
			out = append(out, r.Value.(models.ConflictEvent))
		}
		r = r.Next()
	}
	return out
}

// ReleaseAgentLocks removes every lock agentID holds and its byAgent entry.
// Idempotent: releasing an agent with no locks is a no-op.
func (m *Monitor) ReleaseAgentLocks(agentID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths, ok := m.byAgent[agentID]
	if !ok {
		return
	}
	for file := range paths {
		if lock, held := m.locks[file]; held && lock.HoldingAgent == agentID {
			delete(m.locks, file)
		}
	}
	delete(m.byAgent, agentID)
}

// DetectFeatureOverlap groups currently-locked paths by parent directory and
// returns the directories where more than one agent is active.
func (m *Monitor) DetectFeatureOverlap() map[string][]uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDir := make(map[string]map[uuid.UUID]bool)
	for file, lock := range m.locks {
		dir := path.Dir(file)
		if byDir[dir] == nil {
			byDir[dir] = make(map[uuid.UUID]bool)
		}
		byDir[dir][lock.HoldingAgent] = true
	}

	out := make(map[string][]uuid.UUID)
	for dir, agents := range byDir {
		if len(agents) < 2 {
			continue
		}
		ids := make([]uuid.UUID, 0, len(agents))
		for id := range agents {
			ids = append(ids, id)
		}
		out[dir] = ids
	}
	return out
}

// CheckTaskAssignment compares a task's in-scope files against locks held by
// agents other than candidateAgent, reporting whether dispatch is safe.
func (m *Monitor) CheckTaskAssignment(files []string, candidateAgent uuid.UUID) (safe bool, potentialConflicts []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, file := range files {
		if lock, held := m.locks[file]; held && lock.HoldingAgent != candidateAgent {
			potentialConflicts = append(potentialConflicts, file)
		}
	}
	return len(potentialConflicts) == 0, potentialConflicts
}
