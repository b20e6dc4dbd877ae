package subtxn

// DropPolicy is the type-level tag selecting what disposal does.
type DropPolicy interface {
	CommitOnDrop | RollbackOnDrop
}

// CommitOnDrop commits the scope when its handle is disposed.
type CommitOnDrop struct{}

// RollbackOnDrop rolls the scope back when its handle is disposed.
type RollbackOnDrop struct{}

// Policy is the run-time form of a DropPolicy.
type Policy int

const (
	PolicyCommit Policy = iota
	PolicyRollback
)

func (p Policy) String() string {
	if p == PolicyRollback {
		return "rollback"
	}
	return "commit"
}

// PolicyOf returns the Policy that D stands for.
func PolicyOf[D DropPolicy]() Policy {
	var d D
	if _, ok := any(d).(RollbackOnDrop); ok {
		return PolicyRollback
	}
	return PolicyCommit
}
