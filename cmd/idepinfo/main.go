// Command idepinfo prints the header of a .idep depth file and, per record,
// the intrinsics and depth range.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/zsiec/depthcap/internal/depthfile"
	"github.com/zsiec/depthcap/internal/depthstats"
	"github.com/zsiec/depthcap/internal/media"
)

type recordSummary struct {
	Index      int              `json:"index"`
	Intrinsics media.Intrinsics `json:"intrinsics"`
	Min        float32          `json:"min"`
	Max        float32          `json:"max"`
	Valid      bool             `json:"valid"`
}

type summary struct {
	Path    string           `json:"path"`
	Header  depthfile.Header `json:"header"`
	Records int              `json:"records"`
	Frames  []recordSummary  `json:"frames,omitempty"`
}

func main() {
	jsonFlag := flag.Bool("json", false, "Print a JSON summary")
	framesFlag := flag.Bool("frames", false, "Include per-record intrinsics and range")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  idepinfo [--frames] [--json] <file.idep>...\n")
		os.Exit(1)
	}

	failed := false
	for _, path := range flag.Args() {
		s, err := inspect(path, *framesFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
			if s == nil {
				continue
			}
		}
		if *jsonFlag {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(s)
			continue
		}
		printSummary(os.Stdout, s)
	}
	if failed {
		os.Exit(1)
	}
}

// inspect reads every record of path. On a truncated file it returns the
// summary of the complete records together with the error.
func inspect(path string, frames bool) (*summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := depthfile.NewReader(f)
	if err != nil {
		return nil, err
	}
	s := &summary{Path: path, Header: r.Header()}
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return s, nil
		}
		if err != nil {
			return s, err
		}
		if frames {
			rng := depthstats.Compute(rec.Depth)
			s.Frames = append(s.Frames, recordSummary{
				Index:      s.Records,
				Intrinsics: rec.Intrinsics,
				Min:        rng.Min,
				Max:        rng.Max,
				Valid:      rng.Valid,
			})
		}
		s.Records++
	}
}

func printSummary(w io.Writer, s *summary) {
	h := s.Header
	platform := "other"
	if h.Platform == depthfile.PlatformThis {
		platform = "this"
	}
	fmt.Fprintf(w, "%s\n", s.Path)
	fmt.Fprintf(w, "  platform   %s\n", platform)
	fmt.Fprintf(w, "  size       %dx%d x %d B/sample\n", h.Width, h.Height, h.BytesPerSample)
	fmt.Fprintf(w, "  fps        %d\n", h.FPS)
	fmt.Fprintf(w, "  records    %d (%d B each)\n", s.Records, h.RecordSize())
	for _, f := range s.Frames {
		rng := media.DistanceRange{Min: f.Min, Max: f.Max, Valid: f.Valid}
		fmt.Fprintf(w, "  #%-5d fx=%.1f fy=%.1f cx=%.1f cy=%.1f  %s\n",
			f.Index, f.Intrinsics.Fx, f.Intrinsics.Fy, f.Intrinsics.Cx, f.Intrinsics.Cy, rng)
	}
}
