package mergeengine

import (
	"runtime"
	"sync"

	"github.com/ontosys/omscore/pkg/types"
)

// overlapJob is one rid touched by both sides of a merge, queued for
// conflict classification.
type overlapJob struct {
	rid    string
	base   *types.SchemaEntity
	source types.EntityChange
	target types.EntityChange
}

type overlapResult struct {
	rid        string
	resolution Resolution
	conflicts  []Conflict
}

// evaluateOverlaps classifies every overlapping rid concurrently across
// a bounded worker pool, shaped like the teacher's ticker-driven
// background workers: a channel of jobs drained by a fixed set of
// goroutines, synchronized with a WaitGroup. Order of the returned
// results is not significant to callers, which index by rid.
func evaluateOverlaps(jobs []overlapJob) []overlapResult {
	if len(jobs) == 0 {
		return nil
	}
	workers := runtime.NumCPU()
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	jobCh := make(chan overlapJob)
	resultCh := make(chan overlapResult, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				resolution, conflicts := classifyOverlap(job.base, job.source, job.target)
				resultCh <- overlapResult{rid: job.rid, resolution: resolution, conflicts: conflicts}
			}
		}()
	}

	go func() {
		for _, job := range jobs {
			jobCh <- job
		}
		close(jobCh)
	}()

	wg.Wait()
	close(resultCh)

	results := make([]overlapResult, 0, len(jobs))
	for r := range resultCh {
		results = append(results, r)
	}
	return results
}
