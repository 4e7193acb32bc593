package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untoldecay/apex/internal/tasks"
)

func TestTaskExists(t *testing.T) {
	require.Error(t, TaskExists()(nil))
	require.NoError(t, TaskExists()(&tasks.Task{ID: "T1"}))
}

func TestNotCompleted(t *testing.T) {
	active := &tasks.Task{ID: "T1", Status: tasks.StatusActive}
	assert.NoError(t, NotCompleted()(active))

	done := &tasks.Task{ID: "T1", Status: tasks.StatusCompleted}
	assert.Error(t, NotCompleted()(done))
}

func TestPhaseTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    tasks.Phase
		to      tasks.Phase
		wantErr bool
	}{
		{"architect to builder", tasks.PhaseArchitect, tasks.PhaseBuilder, false},
		{"architect to research", tasks.PhaseArchitect, tasks.PhaseResearch, false},
		{"architect to validator illegal", tasks.PhaseArchitect, tasks.PhaseValidator, true},
		{"validator to reviewer", tasks.PhaseValidator, tasks.PhaseReviewer, false},
		{"validator to documenter skip reviewer", tasks.PhaseValidator, tasks.PhaseDocumenter, false},
		{"documenter terminal", tasks.PhaseDocumenter, tasks.PhaseBuilder, true},
		{"same phase noop", tasks.PhaseBuilder, tasks.PhaseBuilder, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			task := &tasks.Task{ID: "T1", Phase: c.from}
			err := PhaseTransition(c.to)(task)
			if c.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadyToComplete(t *testing.T) {
	assert.NoError(t, ReadyToComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseValidator}))
	assert.NoError(t, ReadyToComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseReviewer}))
	assert.NoError(t, ReadyToComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseDocumenter}))
	assert.Error(t, ReadyToComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseBuilder}))
}

func TestForUpdateAndForComplete(t *testing.T) {
	require.Error(t, ForUpdate()(nil))
	require.Error(t, ForUpdate()(&tasks.Task{ID: "T1", Status: tasks.StatusCompleted}))
	require.NoError(t, ForUpdate()(&tasks.Task{ID: "T1", Status: tasks.StatusActive}))

	require.Error(t, ForComplete()(nil))
	require.Error(t, ForComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseBuilder}))
	require.NoError(t, ForComplete()(&tasks.Task{ID: "T1", Phase: tasks.PhaseValidator}))
}
