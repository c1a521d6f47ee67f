package txpool

import (
	"sync"

	"github.com/dagchain/node/internal/types"
)

// verifyResult is one transaction's signature-verification outcome.
type verifyResult struct {
	index int
	addr  types.Address
	err   error
}

// verifyTransactionsParallel recovers each transaction's sender
// concurrently across workers, the CPU-bound stage 2 of spec.md
// §4.2's pipeline ("parallelisable across a worker pool"), grounded on
// the teacher's chunked worker-pool idiom
// (engine/gpu_batch_pipeline.go's verifySignaturesCPU) with the GPU
// path dropped — this repository has no GPU signature batch to offer,
// only CPU secp256k1 recovery.
func verifyTransactionsParallel(verifier types.Verifier, txs []*types.Transaction, workers int) []verifyResult {
	if workers < 1 {
		workers = 1
	}
	if workers > len(txs) {
		workers = len(txs)
	}
	if workers == 0 {
		return nil
	}

	results := make([]verifyResult, len(txs))
	chunkSize := (len(txs) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > len(txs) {
			end = len(txs)
		}
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				addr, err := txs[i].RecoverSender(verifier)
				results[i] = verifyResult{index: i, addr: addr, err: err}
			}
		}(start, end)
	}
	wg.Wait()
	return results
}
