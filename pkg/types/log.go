package types

import (
	"time"
)

// LogRecordID identifies one build run of one version of a package
// base.
type LogRecordID struct {
	Base      string `json:"package_base"`
	Version   string `json:"version"`
	ProcessID string `json:"process_id"`
}

// A LogRecord is a single chunk of build output.
type LogRecord struct {
	ID      LogRecordID `json:"id"`
	Created time.Time   `json:"created"`
	Message string      `json:"message"`
}
