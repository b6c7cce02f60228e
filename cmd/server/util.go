package main

import (
	"sort"

	"citygrid.ai/internal/sim/city"
)

func sortedResources(m map[city.ResourceType]int) []city.ResourceType {
	out := make([]city.ResourceType, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
