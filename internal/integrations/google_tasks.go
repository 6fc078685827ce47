// ABOUTME: Stub Google Tasks connector: task lists and tasks.
// ABOUTME: Returns canned payloads shaped like the Tasks API; no network calls.

package integrations

import (
	"context"
	"fmt"

	"github.com/ndtriplebolt/coreassist-electron/internal/connector"
)

// NewGoogleTasks builds the Google Tasks connector from its manifest.
func NewGoogleTasks(m *connector.Manifest) (connector.Connector, error) {
	s := &service{Base: connector.NewBase(m), display: "Google Tasks"}
	s.handlers = map[string]handlerFunc{
		"list_task_lists":  tasksListTaskLists,
		"create_task_list": tasksCreateTaskList,
		"list_tasks":       tasksListTasks,
		"create_task":      tasksCreateTask,
		"complete_task":    tasksCompleteTask,
	}
	return s, nil
}

func tasksListTaskLists(_ context.Context, _ map[string]any, _ connector.AuthData) (map[string]any, error) {
	return map[string]any{
		"task_lists": []map[string]any{
			{"id": "sample_list_1", "title": "My Tasks", "updated": "2024-01-01T12:00:00.000Z"},
			{"id": "sample_list_2", "title": "Work Tasks", "updated": "2024-01-01T10:00:00.000Z"},
		},
		"message": "Listed task lists (stub)",
	}, nil
}

type tasksCreateTaskListInput struct {
	Title string `json:"title"`
}

func tasksCreateTaskList(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in tasksCreateTaskListInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"title", in.Title}); err != nil {
		return nil, err
	}

	ts := timestamp()
	return map[string]any{
		"task_list": map[string]any{
			"id":      "new_list_" + ts,
			"title":   in.Title,
			"updated": ts,
		},
		"message": fmt.Sprintf("Created task list %q (stub)", in.Title),
	}, nil
}

type tasksListTasksInput struct {
	TaskListID string `json:"tasklist_id"`
}

func tasksListTasks(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in tasksListTasksInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"tasklist_id", in.TaskListID}); err != nil {
		return nil, err
	}

	return map[string]any{
		"tasks": []map[string]any{
			{"id": "sample_task_1", "title": "Sample Task 1", "status": "needsAction", "updated": "2024-01-01T12:00:00.000Z"},
			{"id": "sample_task_2", "title": "Sample Task 2", "status": "completed", "updated": "2024-01-01T11:00:00.000Z"},
		},
		"tasklist_id": in.TaskListID,
		"message":     "Listed tasks (stub)",
	}, nil
}

type tasksCreateTaskInput struct {
	TaskListID string `json:"tasklist_id"`
	Title      string `json:"title"`
	Notes      string `json:"notes"`
	DueDate    string `json:"due_date"`
}

func tasksCreateTask(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in tasksCreateTaskInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"tasklist_id", in.TaskListID}, [2]string{"title", in.Title}); err != nil {
		return nil, err
	}

	ts := timestamp()
	task := map[string]any{
		"id":      "new_task_" + ts,
		"title":   in.Title,
		"notes":   in.Notes,
		"status":  "needsAction",
		"updated": ts,
	}
	if in.DueDate != "" {
		task["due"] = in.DueDate
	}

	return map[string]any{
		"task":        task,
		"tasklist_id": in.TaskListID,
		"message":     fmt.Sprintf("Created task %q (stub)", in.Title),
	}, nil
}

type tasksCompleteTaskInput struct {
	TaskListID string `json:"tasklist_id"`
	TaskID     string `json:"task_id"`
}

func tasksCompleteTask(_ context.Context, params map[string]any, _ connector.AuthData) (map[string]any, error) {
	var in tasksCompleteTaskInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	if err := requireParams([2]string{"tasklist_id", in.TaskListID}, [2]string{"task_id", in.TaskID}); err != nil {
		return nil, err
	}

	ts := timestamp()
	return map[string]any{
		"task": map[string]any{
			"id":        in.TaskID,
			"status":    "completed",
			"completed": ts,
			"updated":   ts,
		},
		"tasklist_id": in.TaskListID,
		"message":     fmt.Sprintf("Completed task %s (stub)", in.TaskID),
	}, nil
}
