package main

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bagelbfs/bfs"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name       string
		graph      string
		otherInput bool
		flags      []string
		args       []string
		wantGraph  string
		wantSrc    []uint64
	}{
		{"positional graph then sources", "", false, nil, []string{"g.tsv", "3", "4"}, "g.tsv", []uint64{3, 4}},
		{"graph flag keeps positional sources", "g.tsv", false, []string{"1"}, []string{"2"}, "g.tsv", []uint64{1, 2}},
		{"powerlaw keeps positional sources", "", true, nil, []string{"5"}, "", []uint64{5}},
		{"nothing given", "", false, nil, nil, "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			graph, sources, err := parseArgs(tt.graph, tt.otherInput, tt.flags, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.wantGraph, graph)
			assert.Equal(t, tt.wantSrc, sources)
		})
	}

	_, _, err := parseArgs("g.tsv", false, nil, []string{"x"})
	assert.Error(t, err)
}

func TestOutputLines(t *testing.T) {
	var buf bytes.Buffer
	printGraphSize(&buf, 12, 34)
	printResult(&buf, bfs.Result{Iterations: 5, ElapsedSeconds: 1.25, Sources: []uint64{0}, Reached: 9})
	out := buf.String()

	assert.Regexp(t, regexp.MustCompile(`(?m)^#vertices:\s+12$`), out)
	assert.Regexp(t, regexp.MustCompile(`(?m)^#edges:\s+34$`), out)
	assert.Contains(t, out, "5 iterations completed.\n")
	assert.Contains(t, out, "Finished Running engine in 1.250 seconds.\n")
	assert.NotContains(t, out, "Saved:")

	buf.Reset()
	printResult(&buf, bfs.Result{})
	assert.NotContains(t, buf.String(), "iterations completed")
}
