package entity

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownTask    = errors.New("unknown external task")
	ErrNotDeliverable = errors.New("job has no deliverable result")
	ErrDuplicateTask  = errors.New("external task already registered")
)
