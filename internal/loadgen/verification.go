package loadgen

// verifyDuplicates counts the planted pairs that ended up in one decision,
// either merged or flagged for review.
func verifyDuplicates(planted [][2]string, decisions []decision) int {
	clusters := make(map[string][]int)
	for i, d := range decisions {
		clusters[d.PrimaryID] = append(clusters[d.PrimaryID], i)
		for _, id := range d.DuplicateIDs {
			clusters[id] = append(clusters[id], i)
		}
	}

	found := 0
	for _, pair := range planted {
		if shareCluster(clusters[pair[0]], clusters[pair[1]]) {
			found++
		}
	}
	return found
}

func shareCluster(a, b []int) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// recall is found over planted; a plan without duplicates has full recall.
func recall(found, planted int) float64 {
	if planted == 0 {
		return 1
	}
	return float64(found) / float64(planted)
}
