package bagel

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Writer renders vertices and edges as text. An empty string writes
// nothing.
type Writer[V any] interface {
	SaveVertex(v Vertex[V]) string
	SaveEdge(e Edge[V]) string
}

type SaveOptions struct {
	Gzip         bool
	SaveVertices bool
	SaveEdges    bool
	// Proc and NumProcs pick the slice of the graph this process writes.
	// Zero NumProcs means a single process.
	Proc     int
	NumProcs int
}

// SaveFileName is the file process proc of nprocs writes for prefix.
func SaveFileName(prefix string, proc, nprocs int, gz bool) string {
	name := fmt.Sprintf("%s_%d_of_%d", prefix, proc+1, nprocs)
	if gz {
		name += ".gz"
	}
	return name
}

// Save writes the vertices this process owns, and the edges whose source
// it owns, to SaveFileName(prefix, ...). It returns the file name.
func Save[V any](g *Graph[V], prefix string, w Writer[V], opts SaveOptions) (string, error) {
	if !g.IsFinalized() {
		return "", ErrNotFinalized
	}
	if opts.NumProcs <= 0 {
		opts.NumProcs, opts.Proc = 1, 0
	}
	name := SaveFileName(prefix, opts.Proc, opts.NumProcs, opts.Gzip)

	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	if err := writeGraph(f, g, w, opts); err != nil {
		f.Close()
		return "", fmt.Errorf("save %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	log.Info().Str("component", "save").Str("file", name).Msg("Save: wrote graph")
	return name, nil
}

func writeGraph[V any](out io.Writer, g *Graph[V], w Writer[V], opts SaveOptions) error {
	var zw *gzip.Writer
	if opts.Gzip {
		zw = gzip.NewWriter(out)
		out = zw
	}
	bw := bufio.NewWriter(out)

	for _, idx := range g.Partition(opts.Proc, opts.NumProcs) {
		if opts.SaveVertices {
			if s := w.SaveVertex(Vertex[V]{g: g, idx: idx}); s != "" {
				if _, err := bw.WriteString(s); err != nil {
					return err
				}
			}
		}
		if opts.SaveEdges {
			var werr error
			g.forEachEdge(idx, OutEdges, func(e Edge[V]) {
				if s := w.SaveEdge(e); s != "" && werr == nil {
					_, werr = bw.WriteString(s)
				}
			})
			if werr != nil {
				return werr
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	if zw != nil {
		return zw.Close()
	}
	return nil
}
