// Package formdata stages task form data between a draft save and task
// completion.
package formdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"usrtaskmgt/internal/domain"
	"usrtaskmgt/internal/engine"
)

// ErrStorage wraps operational failures of a backend.
var ErrStorage = errors.New("form data storage failure")

// Store is the interface every backend satisfies.
type Store interface {
	engine.FormDataStore
	Close() error
}

// Key addresses the form data of one task definition in one process instance.
func Key(taskDefinitionKey, processInstanceID string) string {
	return ProcessPrefix(processInstanceID) + "task/" + taskDefinitionKey
}

// ProcessPrefix is shared by every key of one process instance.
func ProcessPrefix(processInstanceID string) string {
	return "process/" + processInstanceID + "/"
}

// ParseKey splits a key produced by Key.
func ParseKey(key string) (taskDefinitionKey, processInstanceID string, err error) {
	rest, ok := strings.CutPrefix(key, "process/")
	if !ok {
		return "", "", fmt.Errorf("invalid form data key %q", key)
	}
	pid, tdk, ok := strings.Cut(rest, "/task/")
	if !ok || pid == "" || tdk == "" {
		return "", "", fmt.Errorf("invalid form data key %q", key)
	}
	return tdk, pid, nil
}

func storageErr(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, key, err)
}

func encode(fd domain.FormData) ([]byte, error) {
	return json.Marshal(fd)
}

func decode(b []byte) (domain.FormData, error) {
	var fd domain.FormData
	err := json.Unmarshal(b, &fd)
	return fd, err
}
