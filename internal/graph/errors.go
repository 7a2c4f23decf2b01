package graph

import "fmt"

// CyclicGraphError is returned by Load when the dependency relation is not
// a DAG. Through names a node that was observed grey (on the DFS stack)
// a second time, proving a cycle passes through it.
type CyclicGraphError struct {
	Through string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("cyclic dependency graph (cycle passes through %q)", e.Through)
}
