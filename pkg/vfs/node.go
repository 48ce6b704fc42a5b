package vfs

import (
	"path/filepath"

	"github.com/google/uuid"
)

// node is a Directory or a File. All node methods run on the dispatch
// goroutine.
type node interface {
	base() *nodeBase

	// destroy tears the node down: workers are cancelled, timers stopped,
	// indices released and the node detached from its parent.
	destroy()
}

type nodeBase struct {
	forest *Forest
	parent *Directory
	id     uuid.UUID
	name   string
}

func (n *nodeBase) base() *nodeBase { return n }

// attach makes self a child of parent. Attaching an attached node is a bug.
func attach(self node, parent *Directory) {
	b := self.base()
	if b.parent != nil {
		panic("vfs: node already attached")
	}
	b.parent = parent
	parent.children = append(parent.children, self)
}

// detach removes self from its parent. Detaching a detached node is a bug.
func detach(self node) {
	b := self.base()
	if b.parent == nil {
		panic("vfs: node already detached")
	}
	siblings := b.parent.children
	for i, c := range siblings {
		if c == self {
			b.parent.children = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	b.parent = nil
}

// rootOf walks parent links to the top. A parentless File has no root.
func rootOf(n node) *Directory {
	top, _ := n.(*Directory)
	for p := n.base().parent; p != nil; p = p.parent {
		top = p
	}
	return top
}

// nodePath lists the nodes from the root down to n.
func nodePath(n node) []node {
	var path []node
	for cur := n; cur != nil; {
		path = append(path, cur)
		p := cur.base().parent
		if p == nil {
			break
		}
		cur = p
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// absPath is the on-disk path of n: the drives directory, then the root's
// name (the drive id), then every name below.
func absPath(n node) string {
	path := nodePath(n)
	parts := make([]string, 0, len(path)+1)
	parts = append(parts, n.base().forest.opts.DrivesDir)
	for _, p := range path {
		parts = append(parts, p.base().name)
	}
	return filepath.Join(parts...)
}

// preVisit calls fn on n and then on every descendant.
func preVisit(n node, fn func(node)) {
	fn(n)
	if d, ok := n.(*Directory); ok {
		for _, c := range append([]node(nil), d.children...) {
			preVisit(c, fn)
		}
	}
}

