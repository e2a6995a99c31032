// Package legacy converts the old nodes+edges graph export into root+branch
// trees. It is an offline transform: nothing here touches storage, and the
// output is deterministic so a rerun yields the same tree and branch ids.
package legacy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/sugya/internal/forest"
)

// Node types in the legacy graph.
const (
	TypeRoot   = "root"
	TypeBranch = "branch"
)

// Graph is the legacy document: a flat node list plus parent->child edges.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one legacy node. Data holds the type-specific fields.
type Node struct {
	ID   string   `json:"id"`
	Type string   `json:"type"`
	Data NodeData `json:"data"`
}

// NodeData is the union of root and branch fields in the legacy format.
type NodeData struct {
	// Root fields
	Title             string  `json:"title"`
	SourceText        string  `json:"sourceText"`
	HebrewText        string  `json:"hebrewText"`
	HebrewTranslation *string `json:"hebrewTranslation"`
	Translation       string  `json:"translation"`
	UserNotesKeywords string  `json:"userNotesKeywords"`

	// Branch fields
	Author             string   `json:"author"`
	WorkTitle          string   `json:"workTitle"`
	PublicationDetails string   `json:"publicationDetails"`
	Year               *int     `json:"year"`
	ReferenceText      string   `json:"referenceText"`
	UserNotes          string   `json:"userNotes"`
	Category           string   `json:"category"`
	Keywords           []string `json:"keywords"`
	HarvestedAt        *int64   `json:"harvestedAt"`

	CreatedAt int64 `json:"createdAt"`
}

// Edge links a parent node to a child node.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Problem is a node the transform could not place cleanly.
type Problem struct {
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
}

// Parse reads a legacy graph document.
func Parse(r io.Reader) (*Graph, error) {
	var g Graph
	dec := json.NewDecoder(r)
	if err := dec.Decode(&g); err != nil {
		return nil, fmt.Errorf("invalid legacy graph: %w", err)
	}
	return &g, nil
}

// Transform builds one tree per root node. Each branch node is attached to
// the root it descends from; branch chains (branch -> branch) are followed up
// to their root. Branch order follows edge order. now stamps nodes with no
// createdAt.
func Transform(g *Graph, now int64) ([]*forest.Tree, []Problem) {
	var problems []Problem

	nodes := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			problems = append(problems, Problem{Message: fmt.Sprintf("node #%d has no id", i)})
			continue
		}
		if _, dup := nodes[n.ID]; dup {
			problems = append(problems, Problem{NodeID: n.ID, Message: "duplicate node id; later copy ignored"})
			continue
		}
		nodes[n.ID] = n
	}

	parents := make(map[string][]string)
	for _, e := range g.Edges {
		if _, ok := nodes[e.Source]; !ok {
			problems = append(problems, Problem{NodeID: e.Target, Message: fmt.Sprintf("edge %s has unknown source %q", e.ID, e.Source)})
			continue
		}
		if _, ok := nodes[e.Target]; !ok {
			problems = append(problems, Problem{NodeID: e.Source, Message: fmt.Sprintf("edge %s has unknown target %q", e.ID, e.Target)})
			continue
		}
		parents[e.Target] = append(parents[e.Target], e.Source)
	}

	trees := make([]*forest.Tree, 0)
	treeByRoot := make(map[string]*forest.Tree)
	usedIDs := make(map[string]bool)

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if nodes[n.ID] != n {
			continue
		}
		switch n.Type {
		case TypeRoot:
			t, ok := rootTree(n, usedIDs, now)
			if !ok {
				problems = append(problems, Problem{NodeID: n.ID, Message: "root has neither sourceText nor title"})
				continue
			}
			trees = append(trees, t)
			treeByRoot[n.ID] = t
		case TypeBranch:
		default:
			problems = append(problems, Problem{NodeID: n.ID, Message: fmt.Sprintf("unknown node type %q", n.Type)})
		}
	}

	// Edge order decides branch order within a tree.
	placed := make(map[string]bool)
	for _, e := range g.Edges {
		child, ok := nodes[e.Target]
		if !ok || child.Type != TypeBranch || placed[child.ID] {
			continue
		}
		placed[child.ID] = true

		rootID, all := findRoot(child.ID, parents, nodes)
		t, ok := treeByRoot[rootID]
		if !ok {
			problems = append(problems, Problem{NodeID: child.ID, Message: "branch does not descend from any root"})
			continue
		}
		if len(all) > 1 {
			problems = append(problems, Problem{
				NodeID:  child.ID,
				Message: fmt.Sprintf("branch descends from several roots %v; attached to %s", all, rootID),
			})
		}
		t.Branches = append(t.Branches, branchFrom(child, t.ID, now))
	}

	for i := range g.Nodes {
		n := &g.Nodes[i]
		if nodes[n.ID] == n && n.Type == TypeBranch && !placed[n.ID] {
			problems = append(problems, Problem{NodeID: n.ID, Message: "branch has no incoming edge"})
		}
	}

	return trees, problems
}

func rootTree(n *Node, usedIDs map[string]bool, now int64) (*forest.Tree, bool) {
	source := strings.TrimSpace(n.Data.SourceText)
	if source == "" {
		source = strings.TrimSpace(n.Data.Title)
	}
	if source == "" {
		return nil, false
	}
	title := strings.TrimSpace(n.Data.Title)
	if title == "" {
		title = source
	}

	id := forest.TreeIDFor(source)
	if id == "" || usedIDs[id] {
		// Deterministic fallback so reruns agree on the id.
		id = strings.Trim(id+"-"+safeID(n.ID), "-")
	}
	usedIDs[id] = true

	created := n.Data.CreatedAt
	if created == 0 {
		created = now
	}

	var hebrewTranslation *string
	if n.Data.HebrewTranslation != nil && strings.TrimSpace(*n.Data.HebrewTranslation) != "" {
		v := *n.Data.HebrewTranslation
		hebrewTranslation = &v
	}

	return &forest.Tree{
		ID: id,
		Root: forest.Root{
			Title:             title,
			SourceText:        source,
			HebrewText:        n.Data.HebrewText,
			HebrewTranslation: hebrewTranslation,
			Translation:       n.Data.Translation,
			UserNotesKeywords: n.Data.UserNotesKeywords,
		},
		Branches:  []forest.Branch{},
		CreatedAt: created,
		UpdatedAt: created,
	}, true
}

func branchFrom(n *Node, treeID string, now int64) forest.Branch {
	created := n.Data.CreatedAt
	if created == 0 {
		created = now
	}
	b := forest.Branch{
		ID:                 treeID + "-" + safeID(n.ID),
		TreeID:             treeID,
		Author:             n.Data.Author,
		WorkTitle:          n.Data.WorkTitle,
		PublicationDetails: n.Data.PublicationDetails,
		Year:               n.Data.Year,
		ReferenceText:      n.Data.ReferenceText,
		UserNotes:          n.Data.UserNotes,
		HarvestedAt:        n.Data.HarvestedAt,
		CreatedAt:          created,
	}
	if c := strings.TrimSpace(n.Data.Category); c != "" {
		cat := forest.Category(c)
		b.Category = &cat
	}
	if len(n.Data.Keywords) > 0 {
		b.Keywords = append([]string(nil), n.Data.Keywords...)
	}
	return b
}

// findRoot walks parent edges breadth-first from a branch and returns the
// first root reached plus every root reachable, in discovery order.
func findRoot(start string, parents map[string][]string, nodes map[string]*Node) (string, []string) {
	var roots []string
	seen := map[string]bool{start: true}
	queue := append([]string(nil), parents[start]...)

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true

		n := nodes[id]
		if n.Type == TypeRoot {
			roots = append(roots, id)
			continue
		}
		queue = append(queue, parents[id]...)
	}

	if len(roots) == 0 {
		return "", nil
	}
	return roots[0], roots
}

// safeID lowercases a legacy node id and keeps only [a-z0-9-].
func safeID(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return hex.EncodeToString([]byte(id))
	}
	return out
}
