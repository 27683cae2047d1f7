package invariant

import (
	"fmt"

	"github.com/nilchain/consensim/block"
)

// CheckHashIntegrity verifies every block's stored hash matches its
// recomputed hash, and that PoW/Hybrid blocks (height > 0) meet
// difficulty. Genesis is compared against the seed-derived
// block.Genesis() hash and is exempt from the difficulty check.
func CheckHashIntegrity(chain []*block.Block, difficulty int) []error {
	var errs []error
	for _, b := range chain {
		computed := b.ComputeHash()
		if b.Height == 0 {
			computed = block.Genesis().Hash
		}
		if computed != b.Hash {
			errs = append(errs, fmt.Errorf("height %d: stored hash %s does not match recomputed %s", b.Height, b.Hash, computed))
			continue
		}
		if b.Height > 0 && !block.MeetsDifficulty(b.Hash, difficulty) {
			errs = append(errs, fmt.Errorf("height %d: hash %s does not meet difficulty %d", b.Height, b.Hash, difficulty))
		}
	}
	return errs
}

// CheckChainContinuity verifies every block above genesis links to a
// predecessor at height-1 that is actually present and adjacent in
// the slice (chain is assumed genesis-to-tip ordered).
func CheckChainContinuity(chain []*block.Block) []error {
	var errs []error
	for i := 1; i < len(chain); i++ {
		prev, cur := chain[i-1], chain[i]
		if cur.PrevHash != prev.Hash {
			errs = append(errs, fmt.Errorf("height %d: prev_hash %s does not resolve to height %d's hash %s", cur.Height, cur.PrevHash, prev.Height, prev.Hash))
		}
		if cur.Height != prev.Height+1 {
			errs = append(errs, fmt.Errorf("height %d does not follow height %d", cur.Height, prev.Height))
		}
	}
	return errs
}

// CheckSafetyAgreement verifies a cross-node safety property: for any
// height both nodes have finalized, they agree on the hash.
// finalHashes maps node id -> (height -> hash).
func CheckSafetyAgreement(finalHashes map[int]map[int64]string) []error {
	var errs []error
	byHeight := map[int64]map[string][]int{}
	for node, heights := range finalHashes {
		for h, hash := range heights {
			if byHeight[h] == nil {
				byHeight[h] = map[string][]int{}
			}
			byHeight[h][hash] = append(byHeight[h][hash], node)
		}
	}
	for h, hashes := range byHeight {
		if len(hashes) > 1 {
			errs = append(errs, fmt.Errorf("height %d: nodes disagree on finalized hash: %v", h, hashes))
		}
	}
	return errs
}
