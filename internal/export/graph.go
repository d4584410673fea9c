package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/varalys/osintkit/internal/types"
)

// Edge links two actors. A < B always holds.
type Edge struct {
	A      string  `json:"source"`
	B      string  `json:"target"`
	Weight float64 `json:"weight"`
	// Count is the number of parallel edges folded into this one by Merged.
	Count int `json:"count"`
}

// Graph is an undirected actor graph. Edges is a multiset: one entry per
// record and pair, in record order.
type Graph struct {
	Nodes []string
	Edges []Edge
}

// BuildGraph derives the actor graph of records. Records with both Origins
// and Targets contribute Origins x Targets; others contribute every
// unordered pair of their actors. Self pairs are skipped.
func BuildGraph(records []types.Record) Graph {
	var nodes types.ActorSet
	var edges []Edge
	add := func(a, b string, w float64) {
		if a == b || a == "" || b == "" {
			return
		}
		if b < a {
			a, b = b, a
		}
		edges = append(edges, Edge{A: a, B: b, Weight: w, Count: 1})
	}
	for _, r := range records {
		nodes.Add(r.Actors...)
		w := r.Weight()
		if len(r.Origins) > 0 && len(r.Targets) > 0 {
			nodes.Add(r.Origins...)
			nodes.Add(r.Targets...)
			for _, o := range r.Origins {
				for _, t := range r.Targets {
					add(o, t, w)
				}
			}
			continue
		}
		for i := 0; i < len(r.Actors); i++ {
			for j := i + 1; j < len(r.Actors); j++ {
				add(r.Actors[i], r.Actors[j], w)
			}
		}
	}
	return Graph{Nodes: nodes.Slice(), Edges: edges}
}

// Merged folds parallel edges, summing weights and counts. Order follows
// the first occurrence of each pair.
func (g Graph) Merged() []Edge {
	idx := map[[2]string]int{}
	var out []Edge
	for _, e := range g.Edges {
		k := [2]string{e.A, e.B}
		if i, ok := idx[k]; ok {
			out[i].Weight += e.Weight
			out[i].Count += e.Count
			continue
		}
		idx[k] = len(out)
		out = append(out, e)
	}
	return out
}

// HasEdge reports whether a and b are linked, in either order.
func (g Graph) HasEdge(a, b string) bool {
	if b < a {
		a, b = b, a
	}
	for _, e := range g.Edges {
		if e.A == a && e.B == b {
			return true
		}
	}
	return false
}

type graphmlDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []graphmlKey `xml:"key"`
	Graph   graphmlGraph `xml:"graph"`
}

type graphmlKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

type graphmlGraph struct {
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphmlNode `xml:"node"`
	Edges       []graphmlEdge `xml:"edge"`
}

type graphmlNode struct {
	ID string `xml:"id,attr"`
}

type graphmlEdge struct {
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphmlData `xml:"data"`
}

type graphmlData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// WriteGraphML writes g as undirected GraphML with merged edges.
func WriteGraphML(w io.Writer, g Graph) error {
	doc := graphmlDoc{
		XMLNS: "http://graphml.graphdrawing.org/xmlns",
		Keys: []graphmlKey{
			{ID: "weight", For: "edge", AttrName: "weight", AttrType: "double"},
			{ID: "count", For: "edge", AttrName: "count", AttrType: "int"},
		},
		Graph: graphmlGraph{EdgeDefault: "undirected"},
	}
	for _, n := range g.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, graphmlNode{ID: n})
	}
	for _, e := range g.Merged() {
		doc.Graph.Edges = append(doc.Graph.Edges, graphmlEdge{
			Source: e.A,
			Target: e.B,
			Data: []graphmlData{
				{Key: "weight", Value: formatWeight(e.Weight)},
				{Key: "count", Value: strconv.Itoa(e.Count)},
			},
		})
	}
	return writeXML(w, doc)
}

type gexfDoc struct {
	XMLName xml.Name  `xml:"gexf"`
	XMLNS   string    `xml:"xmlns,attr"`
	Version string    `xml:"version,attr"`
	Graph   gexfGraph `xml:"graph"`
}

type gexfGraph struct {
	Mode            string     `xml:"mode,attr"`
	DefaultEdgeType string     `xml:"defaultedgetype,attr"`
	Nodes           []gexfNode `xml:"nodes>node"`
	Edges           []gexfEdge `xml:"edges>edge"`
}

type gexfNode struct {
	ID    string `xml:"id,attr"`
	Label string `xml:"label,attr"`
}

type gexfEdge struct {
	ID     string `xml:"id,attr"`
	Source string `xml:"source,attr"`
	Target string `xml:"target,attr"`
	Weight string `xml:"weight,attr"`
}

// WriteGEXF writes g as GEXF 1.2 with merged edges.
func WriteGEXF(w io.Writer, g Graph) error {
	doc := gexfDoc{
		XMLNS:   "http://www.gexf.net/1.2draft",
		Version: "1.2",
		Graph:   gexfGraph{Mode: "static", DefaultEdgeType: "undirected"},
	}
	for _, n := range g.Nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, gexfNode{ID: n, Label: n})
	}
	for i, e := range g.Merged() {
		doc.Graph.Edges = append(doc.Graph.Edges, gexfEdge{
			ID:     strconv.Itoa(i),
			Source: e.A,
			Target: e.B,
			Weight: formatWeight(e.Weight),
		})
	}
	return writeXML(w, doc)
}

// WriteGraphJSON writes {"nodes": [...], "edges": [...]} with merged edges.
func WriteGraphJSON(w io.Writer, g Graph) error {
	edges := g.Merged()
	if edges == nil {
		edges = []Edge{}
	}
	nodes := g.Nodes
	if nodes == nil {
		nodes = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Nodes []string `json:"nodes"`
		Edges []Edge   `json:"edges"`
	}{nodes, edges})
}

// Graph output formats.
const (
	GraphML   = "graphml"
	GraphGEXF = "gexf"
	GraphJSON = "json"
)

// WriteGraphFile writes g to path in the named format.
func WriteGraphFile(path, format string, g Graph) error {
	var fn func(io.Writer, Graph) error
	switch strings.ToLower(format) {
	case GraphML, "":
		fn = WriteGraphML
	case GraphGEXF:
		fn = WriteGEXF
	case GraphJSON:
		fn = WriteGraphJSON
	default:
		return fmt.Errorf("unknown graph format %q", format)
	}
	return writeFile(path, func(w io.Writer) error { return fn(w, g) })
}

func writeXML(w io.Writer, doc any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func formatWeight(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
