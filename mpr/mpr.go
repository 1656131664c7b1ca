// Package mpr implements RFC 7181 §18 MultiPoint Relay selection: the
// greedy set-cover algorithm run independently per domain (the flooding
// domain and each routing domain) over a node's symmetric one-hop
// neighbors and the two-hop neighbors reachable through them.
package mpr

import (
	"github.com/openolsr/olsrv2d/addr"
)

// WillAlways is the willingness value (RFC 7181 §5.3) that forces
// unconditional MPR selection in step 1.
const WillAlways = 7

// Candidate is one one-hop neighbor eligible for MPR selection in a
// given domain.
type Candidate struct {
	Originator  addr.Address
	Willingness uint8
	// Reaches is the set of two-hop addresses reachable via this
	// candidate, with the cost of reaching each.
	Reaches map[addr.Address]uint32
}

// Select runs the §18 greedy algorithm over candidates for target set
// n2 (addresses that must be covered: every two-hop neighbor not
// already cheaper via a direct one-hop link). It returns the chosen
// MPR set as a set of originator addresses.
//
// Select is idempotent given stable inputs: candidates and n2 are read
// only, never mutated, and tie-breaks are fully deterministic.
func Select(candidates []Candidate, n2 map[addr.Address]bool) map[addr.Address]bool {
	mprs := make(map[addr.Address]bool)
	covered := make(map[addr.Address]bool, len(n2))

	byOriginator := make(map[addr.Address]Candidate, len(candidates))
	for _, c := range candidates {
		byOriginator[c.Originator] = c
	}

	markCovered := func(c Candidate) {
		for y := range c.Reaches {
			if n2[y] {
				covered[y] = true
			}
		}
	}

	// Step 1: every candidate with WILL_ALWAYS is unconditionally
	// selected.
	for _, c := range candidates {
		if c.Willingness >= WillAlways {
			mprs[c.Originator] = true
			markCovered(c)
		}
	}

	// Step 2: any y in n2 reachable through exactly one candidate
	// forces that candidate's selection.
	for y := range n2 {
		if covered[y] {
			continue
		}
		var only addr.Address
		count := 0
		for _, c := range candidates {
			if _, ok := c.Reaches[y]; ok {
				only = c.Originator
				count++
			}
		}
		if count == 1 && !mprs[only] {
			mprs[only] = true
			markCovered(byOriginator[only])
		}
	}

	// Step 3: greedily add the best candidate by better(): highest
	// willingness first, then the most still-uncovered addresses
	// covered, then reachable-address count, then lexicographically
	// smallest originator, until n2 is fully covered.
	for {
		remaining := 0
		for y := range n2 {
			if !covered[y] {
				remaining++
			}
		}
		if remaining == 0 {
			break
		}

		var best *Candidate
		bestR := -1
		for i := range candidates {
			c := &candidates[i]
			if mprs[c.Originator] {
				continue
			}
			r := 0
			for y := range c.Reaches {
				if n2[y] && !covered[y] {
					r++
				}
			}
			if r == 0 {
				continue
			}
			if best == nil || better(*c, r, *best, bestR) {
				best = c
				bestR = r
			}
		}
		if best == nil {
			// n2 contains addresses unreachable through any candidate;
			// nothing further can be covered.
			break
		}
		mprs[best.Originator] = true
		markCovered(*best)
	}

	return mprs
}

// better reports whether candidate a with coverage count ra should be
// preferred over the current best b with coverage count rb: highest
// willingness first, then highest R(x,M), then highest D(x) (total
// reachable-address count), then lexicographically smallest
// originator.
func better(a Candidate, ra int, b Candidate, rb int) bool {
	if a.Willingness != b.Willingness {
		return a.Willingness > b.Willingness
	}
	if ra != rb {
		return ra > rb
	}
	if len(a.Reaches) != len(b.Reaches) {
		return len(a.Reaches) > len(b.Reaches)
	}
	return a.Originator.Less(b.Originator)
}

// Prune removes any member of mprs whose removal still leaves n2 fully
// covered by the remaining members, per §18's optional pruning step.
// Members are tried in ascending willingness, then ascending originator
// address (D(x) plays no part), so pruning is deterministic given
// stable inputs.
func Prune(candidates []Candidate, n2 map[addr.Address]bool, mprs map[addr.Address]bool) map[addr.Address]bool {
	byOriginator := make(map[addr.Address]Candidate, len(candidates))
	for _, c := range candidates {
		byOriginator[c.Originator] = c
	}

	pruned := make(map[addr.Address]bool, len(mprs))
	for a := range mprs {
		pruned[a] = true
	}

	order := make([]addr.Address, 0, len(pruned))
	for a := range pruned {
		order = append(order, a)
	}
	// Deterministic removal-candidate order: willingness ascending (try
	// removing the least-willing members first), then originator.
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			ci, cj := byOriginator[order[i]], byOriginator[order[j]]
			swap := ci.Willingness > cj.Willingness ||
				(ci.Willingness == cj.Willingness && order[j].Less(order[i]))
			if swap {
				order[i], order[j] = order[j], order[i]
			}
		}
	}

	for _, a := range order {
		if byOriginator[a].Willingness >= WillAlways {
			continue // never prune a WILL_ALWAYS member
		}
		delete(pruned, a)
		if !coversAll(pruned, byOriginator, n2) {
			pruned[a] = true
		}
	}
	return pruned
}

func coversAll(mprs map[addr.Address]bool, byOriginator map[addr.Address]Candidate, n2 map[addr.Address]bool) bool {
	covered := make(map[addr.Address]bool, len(n2))
	for a := range mprs {
		for y := range byOriginator[a].Reaches {
			if n2[y] {
				covered[y] = true
			}
		}
	}
	for y := range n2 {
		if !covered[y] {
			return false
		}
	}
	return true
}
