package dataset

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const (
	defaultPendingCap = 1024
	// DefaultImageGrid is the side of the intensity grid sampled from images.
	DefaultImageGrid = 16
)

// ShardOptions controls how a shard is decoded.
type ShardOptions struct {
	PendingCap int
	// Labeled shards pair every payload with a .cls entry. Unlabeled shards
	// emit payloads as soon as they are read and ignore .cls entries.
	Labeled   bool
	ImageGrid int
}

func (o ShardOptions) withDefaults() ShardOptions {
	if o.PendingCap <= 0 {
		o.PendingCap = defaultPendingCap
	}
	if o.ImageGrid <= 0 {
		o.ImageGrid = DefaultImageGrid
	}
	return o
}

// StreamShard streams samples from the shard at path. Payloads are either
// .feat text vectors or .jpg/.jpeg/.png images reduced to grid intensities.
func StreamShard(ctx context.Context, path string, opts ShardOptions) (<-chan Sample, <-chan error) {
	opts = opts.withDefaults()
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		emit := func(s Sample) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case out <- s:
				return true
			}
		}

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- errors.Wrap(err, "read tar")
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, ext)

			var features []float64
			var label *int
			switch ext {
			case ".feat":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- errors.Wrapf(err, "read features %s", name)
					return
				}
				features, err = parseFeatures(payload)
				if err != nil {
					errCh <- errors.Wrapf(err, "parse features %s", name)
					return
				}
			case ".jpg", ".jpeg", ".png":
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- errors.Wrapf(err, "read image %s", name)
					return
				}
				features, err = ExtractImageFeatures(payload, opts.ImageGrid)
				if err != nil {
					errCh <- errors.Wrapf(err, "decode image %s", name)
					return
				}
			case ".cls":
				if !opts.Labeled {
					continue
				}
				payload, err := io.ReadAll(tr)
				if err != nil {
					errCh <- errors.Wrapf(err, "read label %s", name)
					return
				}
				l, err := strconv.Atoi(strings.TrimSpace(string(payload)))
				if err != nil {
					errCh <- errors.Wrapf(err, "parse label %s", name)
					return
				}
				label = &l
			default:
				continue
			}

			if !opts.Labeled {
				if !emit(Sample{Key: key, Features: features}) {
					return
				}
				continue
			}

			part := pending[key]
			if part == nil {
				part = &partial{}
				pending[key] = part
			}
			if features != nil {
				part.features = features
			}
			if label != nil {
				part.label = label
			}
			if len(pending) > opts.PendingCap {
				errCh <- ErrPendingOverflow
				return
			}
			if part.ready() {
				delete(pending, key)
				if !emit(Sample{Key: key, Features: part.features, Label: *part.label, HasLabel: true}) {
					return
				}
			}
		}

		if len(pending) > 0 {
			errCh <- errors.Errorf("%d samples incomplete", len(pending))
		}
	}()

	return out, errCh
}

type partial struct {
	features []float64
	label    *int
}

func (p *partial) ready() bool {
	return len(p.features) > 0 && p.label != nil
}

// parseFeatures reads floats separated by commas and/or whitespace.
func parseFeatures(payload []byte) ([]float64, error) {
	fields := strings.FieldsFunc(string(payload), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, errors.New("no features")
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ExtractImageFeatures splits an encoded image into grid×grid cells and
// returns the mean luminance of each cell, in [0, 1], row by row.
func ExtractImageFeatures(raw []byte, grid int) ([]float64, error) {
	if grid <= 0 {
		grid = DefaultImageGrid
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, errors.New("empty image")
	}
	features := make([]float64, 0, grid*grid)
	for gy := range grid {
		y0, y1 := cellSpan(b.Min.Y, b.Dy(), gy, grid)
		for gx := range grid {
			x0, x1 := cellSpan(b.Min.X, b.Dx(), gx, grid)
			var sum float64
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sum += float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
				}
			}
			features = append(features, sum/float64((x1-x0)*(y1-y0)*0xffff))
		}
	}
	return features, nil
}

// cellSpan is the pixel range [lo, hi) of cell i out of n along an axis.
// Cells never come out empty, even when n exceeds the axis length.
func cellSpan(origin, length, i, n int) (lo, hi int) {
	lo = i * length / n
	hi = max((i+1)*length/n, lo+1)
	return origin + lo, origin + hi
}
