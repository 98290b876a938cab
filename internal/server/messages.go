package server

import "fmt"

// Message keys of the localized error catalog.
const (
	msgTaskNotExists            = "user-task.not-exists"
	msgTaskNotExistsOrCompleted = "user-task.not-exists-or-completed"
	msgTaskAlreadyAssigned      = "user-task.already-assigned"
	msgTaskAuthorizationError   = "user-task.authorization-error"
)

var messages = map[string]string{
	msgTaskNotExists:            "Task with id %s does not exist",
	msgTaskNotExistsOrCompleted: "Task does not exist or has already been completed",
	msgTaskAlreadyAssigned:      "Task \"%s\" is already assigned to another user",
	msgTaskAuthorizationError:   "You are not allowed to work with task %s",
}

func localize(key string, args ...any) string {
	tmpl, ok := messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return tmpl
	}
	return fmt.Sprintf(tmpl, args...)
}
