// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package index

import (
	"encoding/binary"
	"math"
	"sort"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
)

// Flat is an exact nearest-neighbor index over fixed-dimension vectors using
// Euclidean distance. Entries are addressed by append position; there is no
// in-place removal — deletion is handled by the Store via full rebuild.
type Flat struct {
	dim  int
	vecs [][]float32
}

// NewFlat creates an empty index for vectors of the given dimensionality.
func NewFlat(dim int) (*Flat, error) {
	if dim < 1 {
		return nil, dserr.Errorf(dserr.CodeIndexAppendInvalid, "index: dimension must be positive, got %d", dim)
	}
	return &Flat{dim: dim}, nil
}

// Dim returns the vector dimensionality.
func (f *Flat) Dim() int { return f.dim }

// Len returns the number of stored vectors.
func (f *Flat) Len() int { return len(f.vecs) }

// Add appends vectors in order. All dimensions are validated before any
// vector is stored, so a failed Add leaves the index unchanged.
func (f *Flat) Add(vecs ...[]float32) error {
	for i, v := range vecs {
		if len(v) != f.dim {
			return dserr.Errorf(dserr.CodeIndexAppendInvalid,
				"index: vector %d has dimension %d, want %d", i, len(v), f.dim)
		}
	}

	for _, v := range vecs {
		f.vecs = append(f.vecs, append([]float32(nil), v...))
	}
	return nil
}

// Reconstruct returns a copy of the vector at position i.
func (f *Flat) Reconstruct(i int) []float32 {
	return append([]float32(nil), f.vecs[i]...)
}

// Hit is one search result: the vector's append position and its Euclidean
// distance from the query.
type Hit struct {
	Position int
	Distance float64
}

// Search returns up to k hits in ascending distance order. Ties are broken
// by position so results are deterministic.
func (f *Flat) Search(query []float32, k int) ([]Hit, error) {
	if len(f.vecs) == 0 {
		return nil, nil
	}
	if len(query) != f.dim {
		return nil, dserr.Errorf(dserr.CodeIndexQueryInvalid,
			"index: query dimension %d, want %d", len(query), f.dim)
	}

	hits := make([]Hit, len(f.vecs))
	for i, v := range f.vecs {
		hits[i] = Hit{Position: i, Distance: l2(query, v)}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Position < hits[b].Position
	})

	if k > 0 && k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func l2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// MarshalBinary encodes the index as dim(uint32), count(uint32), then
// count*dim little-endian IEEE 754 float32 values.
func (f *Flat) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8, 8+len(f.vecs)*f.dim*4)
	binary.LittleEndian.PutUint32(out[0:4], uint32(f.dim))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(f.vecs)))

	buf := make([]byte, 4)
	for _, v := range f.vecs {
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			out = append(out, buf...)
		}
	}
	return out, nil
}

// UnmarshalBinary restores an index encoded by MarshalBinary.
func (f *Flat) UnmarshalBinary(data []byte) error {
	if len(data) < 8 {
		return dserr.New(dserr.CodeIndexLoadFailure, "index: truncated header")
	}

	dim := int(binary.LittleEndian.Uint32(data[0:4]))
	n := int(binary.LittleEndian.Uint32(data[4:8]))
	if dim < 1 && n > 0 {
		return dserr.Errorf(dserr.CodeIndexLoadFailure, "index: invalid dimension %d", dim)
	}
	if len(data) != 8+n*dim*4 {
		return dserr.Errorf(dserr.CodeIndexLoadFailure,
			"index: payload is %d bytes, want %d for %d vectors of dim %d",
			len(data)-8, n*dim*4, n, dim)
	}

	vecs := make([][]float32, n)
	off := 8
	for i := 0; i < n; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		vecs[i] = vec
	}

	f.dim = dim
	f.vecs = vecs
	return nil
}
