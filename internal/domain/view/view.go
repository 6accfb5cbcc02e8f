package view

type Kind string

const (
	KindLoading  Kind = "loading"
	KindError    Kind = "error"
	KindNotice   Kind = "notice"
	KindEmpty    Kind = "empty"
	KindList     Kind = "list"
	KindCard     Kind = "card"
	KindField    Kind = "field"
	KindFallback Kind = "fallback"
)

// Node is one element of the display tree handed to a rendering surface.
type Node struct {
	Kind     Kind   `json:"kind"`
	Key      string `json:"key,omitempty"`
	Label    string `json:"label,omitempty"`
	Text     string `json:"text,omitempty"`
	Image    string `json:"image,omitempty"`
	Children []Node `json:"children,omitempty"`
}

// Find returns every node of kind k in the tree rooted at n, depth first.
func (n Node) Find(k Kind) []Node {
	var out []Node
	if n.Kind == k {
		out = append(out, n)
	}
	for _, c := range n.Children {
		out = append(out, c.Find(k)...)
	}
	return out
}

// Field returns the text of the labelled field child, if present.
func (n Node) Field(label string) (string, bool) {
	for _, c := range n.Children {
		if c.Kind == KindField && c.Label == label {
			return c.Text, true
		}
	}
	return "", false
}
