package domain

import "fmt"

// ConfigError reports bad CLI or settings input, raised before any dataset I/O.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DatasetError reports a missing, malformed or empty dataset. It is always
// raised before the job store is written.
type DatasetError struct {
	Msg string
	Err error
}

func (e *DatasetError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *DatasetError) Unwrap() error { return e.Err }

// NewDatasetError formats a DatasetError without a cause.
func NewDatasetError(format string, args ...any) *DatasetError {
	return &DatasetError{Msg: fmt.Sprintf(format, args...)}
}

// IngestionError reports a failed batch send or an unexpected fault while
// shipping. The job it belongs to has been finalized as failed.
type IngestionError struct {
	JobID JobID
	Msg   string
	Err   error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *IngestionError) Unwrap() error { return e.Err }
