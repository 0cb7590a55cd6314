package parallel

// ChunkRange splits n items across workers and returns the range of the
// given worker. Lower numbered workers take the remainder, so the ranges of
// workers 0..workers-1 tile [0, n) without overlap.
func ChunkRange(n, workers, worker int) (start, count int) {
	if n <= 0 || workers <= 0 || worker < 0 || worker >= workers {
		return 0, 0
	}
	base, rem := n/workers, n%workers
	count = base
	if worker < rem {
		count++
	}
	start = worker*base + min(worker, rem)
	return start, count
}

// ComputeWorkers returns how many workers to launch for segmentCount
// segments. A participating leader takes one of the slots itself.
func ComputeWorkers(segmentCount, maxWorkers int, leaderParticipates bool) int {
	n := min(maxWorkers, segmentCount)
	if n <= 0 {
		return 0
	}
	if leaderParticipates {
		n--
	}
	return n
}
