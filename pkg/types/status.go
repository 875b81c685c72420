package types

import (
	"time"
)

// BuildStatusEnum is the position of a package base in the build
// state machine.
type BuildStatusEnum string

// The build states.  A base never seen before is Unknown.
const (
	StatusUnknown  BuildStatusEnum = "unknown"
	StatusPending  BuildStatusEnum = "pending"
	StatusBuilding BuildStatusEnum = "building"
	StatusFailed   BuildStatusEnum = "failed"
	StatusSuccess  BuildStatusEnum = "success"
)

// ParseBuildStatus maps a stored string back to the enum.  Anything
// unrecognized is Unknown.
func ParseBuildStatus(s string) BuildStatusEnum {
	switch BuildStatusEnum(s) {
	case StatusPending, StatusBuilding, StatusFailed, StatusSuccess:
		return BuildStatusEnum(s)
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the status ends a cycle for a package.
func (s BuildStatusEnum) Terminal() bool {
	return s == StatusFailed || s == StatusSuccess
}

// BuildStatus is the current status record of a package base.
type BuildStatus struct {
	Status    BuildStatusEnum `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewBuildStatus stamps a status with the current time.
func NewBuildStatus(s BuildStatusEnum) BuildStatus {
	return BuildStatus{Status: s, Timestamp: time.Now().UTC()}
}

// PackageStatus pairs a package with its current status.
type PackageStatus struct {
	Package Package     `json:"package"`
	Status  BuildStatus `json:"status"`
}
