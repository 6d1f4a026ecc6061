package bagel

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

// Formats understood by Load.
const (
	FormatTSV  = "tsv"  // "src dst" per line
	FormatSNAP = "snap" // as tsv, '#' comments
	FormatAdj  = "adj"  // "vid n nbr1 ... nbrn" per line
	// FormatBinTSV4 is binary: little-endian uint32 src, uint32 dst pairs.
	FormatBinTSV4 = "bintsv4"
)

// Load reads edges in format from r into g.
func Load(g EdgeAdder, r io.Reader, format string) error {
	switch format {
	case FormatTSV, FormatSNAP:
		return loadEdgeList(g, r)
	case FormatAdj:
		return loadAdjacency(g, r)
	case FormatBinTSV4:
		return loadBinTSV4(g, r)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// LoadFormat loads path, a file or a directory of files, in format. Files
// ending in .gz are decompressed. A directory's files load in name order.
func LoadFormat(g EdgeAdder, path, format string) error {
	switch format {
	case FormatTSV, FormatSNAP, FormatAdj, FormatBinTSV4:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	files := []string{path}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return err
		}
		files = files[:0]
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	}

	for _, f := range files {
		if err := loadFile(g, f, format); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
		log.Debug().Str("component", "loader").Str("file", f).Msg("LoadFormat: loaded file")
	}
	return nil
}

func loadFile(g EdgeAdder, path, format string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var r io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	}
	return Load(g, r, format)
}

func newScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	return scanner
}

func skipLine(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

func loadEdgeList(g EdgeAdder, r io.Reader) error {
	scanner := newScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if skipLine(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("line %d: want \"src dst\", got %q", lineNo, line)
		}
		src, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := g.AddEdge(src, dst); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func loadAdjacency(g EdgeAdder, r io.Reader) error {
	scanner := newScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if skipLine(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return fmt.Errorf("line %d: want \"vid n nbrs...\", got %q", lineNo, line)
		}
		vid, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if n != len(fields)-2 {
			return fmt.Errorf("line %d: vertex %d lists %d neighbours, says %d", lineNo, vid, len(fields)-2, n)
		}
		if err := g.AddVertex(vid); err != nil {
			return err
		}
		for _, f := range fields[2:] {
			dst, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			if err := g.AddEdge(vid, dst); err != nil {
				return err
			}
		}
	}
	return scanner.Err()
}

func loadBinTSV4(g EdgeAdder, r io.Reader) error {
	br := bufio.NewReaderSize(r, 1<<20)
	var rec [8]byte
	for n := 0; ; n++ {
		_, err := io.ReadFull(br, rec[:])
		if err == io.EOF {
			return nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("record %d: truncated bintsv4 record", n)
		}
		if err != nil {
			return err
		}
		src := binary.LittleEndian.Uint32(rec[0:4])
		dst := binary.LittleEndian.Uint32(rec[4:8])
		if err := g.AddEdge(uint64(src), uint64(dst)); err != nil {
			return err
		}
	}
}

// LoadSyntheticPowerlaw adds vertices 0..n-1 where each draws a degree d
// in [1, min(n-1, truncate)] with P(d) proportional to d^-alpha, and gets
// d edges to other vertices picked uniformly at random. The edges
// point out of the vertex, or into it when inEdges is set.
func LoadSyntheticPowerlaw(g EdgeAdder, n uint64, inEdges bool, alpha float64, truncate uint64, seed int64) error {
	if n == 0 {
		return nil
	}
	if alpha <= 1 {
		return fmt.Errorf("powerlaw alpha must be > 1, got %v", alpha)
	}
	maxDeg := n - 1
	if truncate < maxDeg {
		maxDeg = truncate
	}

	rng := rand.New(rand.NewSource(seed))
	var zipf *rand.Zipf
	if maxDeg > 0 {
		// draws k in [0, maxDeg-1] with P(k) ~ (k+1)^-alpha
		zipf = rand.NewZipf(rng, alpha, 1, maxDeg-1)
	}
	for v := uint64(0); v < n; v++ {
		if err := g.AddVertex(v); err != nil {
			return err
		}
		deg := uint64(0)
		if zipf != nil {
			deg = zipf.Uint64() + 1
		}
		for i := uint64(0); i < deg; i++ {
			u := rng.Uint64() % n
			for u == v {
				u = rng.Uint64() % n
			}
			var err error
			if inEdges {
				err = g.AddEdge(u, v)
			} else {
				err = g.AddEdge(v, u)
			}
			if err != nil {
				return err
			}
		}
	}
	log.Info().Str("component", "loader").Uint64("vertices", n).Float64("alpha", alpha).
		Msg("LoadSyntheticPowerlaw: generated graph")
	return nil
}
