package bfs

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bagelbfs/bagel"
)

// ParentWriter saves one "<id>\t<parent>" line per vertex, with -1 for
// unreached vertices. Edges are not written.
type ParentWriter struct{}

func (ParentWriter) SaveVertex(v bagel.Vertex[VertexData]) string {
	parent := "-1"
	if p := v.Data().Parent; p != NoParent {
		parent = strconv.FormatUint(p, 10)
	}
	return strconv.FormatUint(v.ID(), 10) + "\t" + parent + "\n"
}

func (ParentWriter) SaveEdge(bagel.Edge[VertexData]) string { return "" }

// ReadParents parses ParentWriter output. Unreached vertices map to -1.
func ReadParents(r io.Reader) (map[uint64]int64, error) {
	parents := make(map[uint64]int64)
	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"id\\tparent\", got %q", lineNo, line)
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if fields[1] == "-1" {
			parents[id] = -1
			continue
		}
		parent, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		parents[id] = int64(parent)
	}
	return parents, scanner.Err()
}
