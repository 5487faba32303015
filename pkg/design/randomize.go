package design

import (
	"math/rand/v2"
)

// Randomize returns a uniformly random permutation of the list. With a
// seed the permutation is reproducible. Without one a seed is drawn from
// the process entropy source; it is returned either way so that callers
// can record it for audit.
func Randomize(list TrialList, seed *int64) (TrialList, int64) {
	var s int64
	if seed != nil {
		s = *seed
	} else {
		s = rand.Int64()
	}

	trials := make([]TrialSpec, len(list.Trials))
	copy(trials, list.Trials)

	rng := rand.New(rand.NewPCG(uint64(s), uint64(s)^0x9e3779b97f4a7c15))
	rng.Shuffle(len(trials), func(i, j int) {
		trials[i], trials[j] = trials[j], trials[i]
	})

	return TrialList{
		Factors: append([]string(nil), list.Factors...),
		Trials:  trials,
	}, s
}
