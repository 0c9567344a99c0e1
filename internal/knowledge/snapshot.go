package knowledge

// Snapshot is a read-only summary of a container, for tooling and logs.
type Snapshot struct {
	Owner         string `json:"owner,omitempty"`
	Tree          string `json:"tree,omitempty"`
	Initialized   bool   `json:"initialized"`
	MemorySize    int    `json:"memorySize"`
	NodeCount     int    `json:"nodeCount"`
	RelevantNodes []int  `json:"relevantNodes"`
	Resources     int    `json:"resources"`
	Blackboard    any    `json:"blackboard,omitempty"`
}

// Snapshot captures the container's current state. The blackboard is
// converted to plain Go data and does not alias the container.
func (k *Knowledge) Snapshot() Snapshot {
	s := Snapshot{
		Owner:         k.ownerID(),
		Initialized:   k.tree != nil,
		MemorySize:    len(k.memory),
		NodeCount:     k.relevant.Len(),
		RelevantNodes: k.relevant.Indices(),
		Resources:     len(k.resources),
		Blackboard:    k.blackboard.Interface(),
	}
	if k.tree != nil {
		s.Tree = k.tree.Name()
	}
	return s
}
