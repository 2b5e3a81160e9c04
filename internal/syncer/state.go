package syncer

import "fmt"

// State is the current phase of a sync operation.
type State int

const (
	StateIdle State = iota
	StateCheckingRegistry
	StateProvisioningTables
	StatePreparingWrites
	StateCommittingBatch
	StateMarkingSynced
	StateRetrying
	StateError
)

// String returns the human-readable phase name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingRegistry:
		return "checking-registry"
	case StateProvisioningTables:
		return "provisioning-tables"
	case StatePreparingWrites:
		return "preparing-writes"
	case StateCommittingBatch:
		return "committing-batch"
	case StateMarkingSynced:
		return "marking-synced"
	case StateRetrying:
		return "retrying"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
