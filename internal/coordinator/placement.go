package coordinator

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// SelectReplicas chooses the replica targets for one chunk.
//
// Policy: rank the given nodes by reported free bytes, most first, and take
// the top min(desired, len(online)). The sort is stable, so nodes with equal
// free space keep their input order. The function is pure; the input slice
// is not reordered.
//
// An empty result is not an error. It is the degraded-placement signal
// (ErrNoNodesAvailable) and the caller records the chunk as failed.
//
// Parameters:
//   - online: candidate nodes, normally Registry.ListOnline()
//   - desired: replication factor
//
// Returns:
//   - at most desired distinct nodes, best candidate first
//
// Example:
//
//	targets := SelectReplicas(registry.ListOnline(), 3)
//	if len(targets) == 0 {
//	    // no node online, chunk is failed
//	}
func SelectReplicas(online []Node, desired int) []Node {
	if desired <= 0 || len(online) == 0 {
		return nil
	}

	ranked := slices.Clone(online)
	slices.SortStableFunc(ranked, func(a, b Node) int {
		return cmp.Compare(b.StorageStats.FreeBytes, a.StorageStats.FreeBytes)
	})

	if desired > len(ranked) {
		desired = len(ranked)
	}
	return ranked[:desired]
}
