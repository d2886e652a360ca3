package domain

import "errors"

var (
	ErrUnknownEngine     = errors.New("unknown database engine")
	ErrInvalidBackupType = errors.New("invalid backup type")
	ErrTablesRequired    = errors.New("tables are required for a tables backup")
	ErrJobNotFound       = errors.New("backup job not found")
	ErrScheduleNotFound  = errors.New("backup schedule not found")
)
