package strategy

import "errors"

var (
	// ErrNoOpportunity indicates a scan completed without finding a
	// qualifying trade. It is a normal outcome, not a failure.
	ErrNoOpportunity = errors.New("no trade opportunity")

	// ErrOrderFailed indicates a leg placement failed during execution.
	ErrOrderFailed = errors.New("order placement failed")
)
