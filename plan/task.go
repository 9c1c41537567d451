package plan

import (
	"encoding/json"
	"math"
	"sort"
)

// Task is one ordered sub-task of the user's instruction.
type Task struct {
	ID                 string `json:"id"`
	Instruction        string `json:"instruction"`
	CompletionCriteria string `json:"completionCriteria"`
	Checks             Checks `json:"criteriaChecks"`
	Order              int    `json:"order"`
}

// UnmarshalJSON accepts fractional or missing order values.
func (t *Task) UnmarshalJSON(data []byte) error {
	type alias Task
	*t = Task{}
	aux := struct {
		*alias
		Order *float64 `json:"order"`
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.Order = 0
	if aux.Order != nil && !math.IsNaN(*aux.Order) {
		t.Order = int(math.Floor(*aux.Order))
	}
	return nil
}

// Clarification is a question the model needs answered before work starts.
type Clarification struct {
	Question string `json:"question"`
	Why      string `json:"why"`
}

// SortTasks orders tasks by ascending Order, keeping the original relative
// order of tasks with equal Order. The input slice is not modified and
// the result is never nil.
func SortTasks(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	copy(out, tasks)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
