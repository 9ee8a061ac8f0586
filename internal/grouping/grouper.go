package grouping

import (
	"sort"

	"github.com/hawklight/vulnreport/internal/models"
)

// Node is one branch of the report tree. Counts at every node include
// everything beneath it, so the root totals equal the input size.
type Node struct {
	Label      string
	Kind       string // "root", "application", "vendor", "product", "server"
	Total      int
	BySeverity map[models.Severity]int
	ByState    map[models.State]int
	QuickWins  []*models.VulnerabilityRecord
	Children   []*Node

	index map[string]*Node
}

func newNode(label, kind string) *Node {
	return &Node{
		Label:      label,
		Kind:       kind,
		BySeverity: make(map[models.Severity]int),
		ByState:    make(map[models.State]int),
		index:      make(map[string]*Node),
	}
}

func (n *Node) child(label, kind string) *Node {
	if c, ok := n.index[label]; ok {
		return c
	}
	c := newNode(label, kind)
	n.index[label] = c
	n.Children = append(n.Children, c)
	return c
}

func (n *Node) add(rec *models.VulnerabilityRecord) {
	n.Total++
	n.BySeverity[rec.Severity]++
	n.ByState[rec.State]++
	if rec.QuickWin != nil {
		n.QuickWins = append(n.QuickWins, rec)
	}
}

// weightedCount orders siblings: a branch full of criticals outranks a
// larger branch of lows.
func (n *Node) weightedCount() int {
	total := 0
	for sev, count := range n.BySeverity {
		total += sev.Weight() * count
	}
	return total
}

func (n *Node) sortChildren() {
	sort.SliceStable(n.Children, func(i, j int) bool {
		wi, wj := n.Children[i].weightedCount(), n.Children[j].weightedCount()
		if wi != wj {
			return wi > wj
		}
		return n.Children[i].Label < n.Children[j].Label
	})
	for _, c := range n.Children {
		c.sortChildren()
	}
}

// Grouper builds the report tree from classified records. Servers with
// an application mapping branch application then server; everything
// else branches vendor then product then server.
type Grouper struct {
	appByHostname map[string]string
}

// NewGrouper takes hostname to application-name mappings resolved from
// the persisted server-application table.
func NewGrouper(appByHostname map[string]string) *Grouper {
	if appByHostname == nil {
		appByHostname = make(map[string]string)
	}
	return &Grouper{appByHostname: appByHostname}
}

// Build iterates the records exactly once. The returned tree is frozen:
// children sorted, no further mutation expected.
func (g *Grouper) Build(records []models.VulnerabilityRecord) *Node {
	root := newNode("all", "root")
	for i := range records {
		rec := &records[i]
		root.add(rec)

		var leafParent *Node
		if app, ok := g.appByHostname[rec.Hostname]; ok {
			appNode := root.child(app, "application")
			appNode.add(rec)
			leafParent = appNode
		} else {
			vendorNode := root.child(labelOr(rec.Vendor, "Unknown"), "vendor")
			vendorNode.add(rec)
			productNode := vendorNode.child(labelOr(rec.Product, "Unknown"), "product")
			productNode.add(rec)
			leafParent = productNode
		}

		serverNode := leafParent.child(labelOr(rec.Hostname, "unknown"), "server")
		serverNode.add(rec)
	}
	root.sortChildren()
	return root
}

func labelOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Walk visits every node depth-first in display order.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}
