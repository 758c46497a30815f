package rewriter

// Walk visits root and then every descendant, depth-first in document
// order. Children are read after the visitor returns for their parent, so
// a visitor may freely change a node's attributes and text.
func Walk(root Node, visit func(Node)) {
	if root == nil {
		return
	}
	visit(root)
	for _, c := range root.Children() {
		Walk(c, visit)
	}
}
