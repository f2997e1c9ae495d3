// Package diagram renders workflow step graphs as Mermaid, plain text or PNG,
// optionally coloured with the state of one execution.
package diagram

// NodeKind classifies a diagram node by its workflow step type.
type NodeKind string

const (
	NodeKindAction         NodeKind = "action"
	NodeKindTransformation NodeKind = "transformation"
	NodeKindTrigger        NodeKind = "trigger"
	NodeKindCondition      NodeKind = "condition"
	NodeKindDelay          NodeKind = "delay"
	NodeKindStart          NodeKind = "start"
	NodeKindEnd            NodeKind = "end"
)

// Overlay statuses beyond the ones the event log records.
const (
	StatusPending = "pending"
	StatusSkipped = "skipped"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is a single step, or one of the virtual start and end markers.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries the runtime state of a step in one execution.
type StatusOverlay struct {
	Status     string
	DurationMs int64
	Error      string
}

// Edge points from a dependency to its dependent.
type Edge struct {
	From string
	To   string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
