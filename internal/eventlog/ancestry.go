package eventlog

// reachable reports whether targetID can be reached from the given parent
// IDs by following parent links through the local graph.
//
// BFS with a visited set. The parent graph is a DAG by construction (IDs are
// content-addressed, so a cycle would require a hash collision), but the
// visited set keeps the walk linear even on heavily shared history.
//
// Caller must hold l.mu.
func (l *Log) reachable(fromParents []string, targetID string) bool {
	visited := make(map[string]bool)
	frontier := append([]string{}, fromParents...)

	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]

		if visited[id] {
			continue
		}
		visited[id] = true

		if id == targetID {
			return true
		}

		// Unknown parents (not yet synced) end the walk on that branch.
		parent, ok := l.events[id]
		if !ok {
			continue
		}
		frontier = append(frontier, parent.Parents...)
	}

	return false
}

// isAncestor reports whether ancestorID is reachable from descendantID by
// following parent links. An event is not its own ancestor.
// Caller must hold l.mu.
func (l *Log) isAncestor(ancestorID, descendantID string) bool {
	if ancestorID == descendantID {
		return false
	}
	start, ok := l.events[descendantID]
	if !ok {
		return false
	}
	return l.reachable(start.Parents, ancestorID)
}

// IsAncestor reports whether ancestorID is an ancestor of descendantID in the
// local log. Unknown IDs are never ancestors.
func (l *Log) IsAncestor(ancestorID, descendantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isAncestor(ancestorID, descendantID)
}

// HasAncestor reports whether ancestorID is reachable from the given parent
// list. Used for events not yet in the log: their ancestry can be walked
// from their parents before they are applied.
func (l *Log) HasAncestor(fromParents []string, ancestorID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reachable(fromParents, ancestorID)
}
