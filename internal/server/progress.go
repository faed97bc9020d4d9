// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package server

import "sync"

// Batch states reported by the progress endpoint.
const (
	statusIdle       = "idle"
	statusUploading  = "uploading"
	statusProcessing = "processing"
	statusDone       = "done"
	statusError      = "error"
)

// ProgressSnapshot is the externally visible state of the current batch.
type ProgressSnapshot struct {
	Total       int    `json:"total" doc:"Files in the current batch"`
	Processed   int    `json:"processed" doc:"Files processed so far"`
	CurrentFile string `json:"current_file" doc:"File most recently processed"`
	Status      string `json:"status" enum:"idle,uploading,processing,done,error" doc:"Batch status"`
}

// progressTracker aggregates pipeline callbacks for the progress endpoint.
// The pipeline itself stays stateless; the HTTP layer owns this view.
type progressTracker struct {
	mu   sync.Mutex
	snap ProgressSnapshot
}

func newProgressTracker() *progressTracker {
	return &progressTracker{snap: ProgressSnapshot{Status: statusIdle}}
}

func (p *progressTracker) begin(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = ProgressSnapshot{Status: status}
}

func (p *progressTracker) processing(total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Status = statusProcessing
	p.snap.Total = total
	p.snap.Processed = 0
}

func (p *progressTracker) update(processed, total int, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Total = total
	if processed > p.snap.Processed {
		p.snap.Processed = processed
	}
	if label != "" {
		p.snap.CurrentFile = label
	}
}

func (p *progressTracker) finish(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap.Status = status
}

func (p *progressTracker) snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap
}
