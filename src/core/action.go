package core

import "fmt"

// A MetaOperationID identifies a top-level build mode.
type MetaOperationID uint8

// A OperationID identifies a concrete verb within a meta-operation. OperationID 0 is
// reserved as the wildcard operation used by rules that apply regardless of which
// operation is running.
type OperationID uint8

// Well-known meta-operations. Front-ends may register additional ones.
const (
	MetaPerform MetaOperationID = iota + 1
	MetaConfigure
	MetaDisfigure
	MetaDist
	MetaInfo
)

// Well-known operations. OperationID 0 (OpAny) is the wildcard used for Action.Op.
const (
	OpAny OperationID = iota
	OpUpdate
	OpClean
	OpTest
	OpInstall
)

// ExecutionMode controls the relative order of a target and its prerequisites during
// execute.
type ExecutionMode uint8

const (
	// ModeFirst executes prerequisites before the target (e.g. update).
	ModeFirst ExecutionMode = iota
	// ModeLast executes the target before its prerequisites (e.g. clean).
	ModeLast
)

// An Action is a packed (meta-operation, operation) pair that parameterises matching
// and execution. It's a plain value so it can be used as a map key in the rule
// registry and compared cheaply.
type Action struct {
	MetaOp MetaOperationID
	Op     OperationID
}

// String renders an Action as "(meta,op)", matching the source's diagnostic format.
func (a Action) String() string {
	return fmt.Sprintf("(%d,%d)", a.MetaOp, a.Op)
}

// OperationInfo describes a registered operation: its name, diagnostic verbs, and
// execution mode.
type OperationInfo struct {
	Name       string
	DoingVerb  string // e.g. "updating"
	DoneVerb   string // e.g. "up to date"
	Mode       ExecutionMode
}
