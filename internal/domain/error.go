package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrJobNotFound     = errors.New("scan job not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPoolClosed      = errors.New("worker pool closed")
	ErrQueueFull       = errors.New("processing queue full")
	ErrOperationFailed = errors.New("operation failed")
)
