package grove

import (
	"fmt"
	"math"
	"sort"

	"github.com/jward/grove/internal/store"
)

// Clone taxonomy tiers.
const (
	CloneTypeExact    = 1 // identical structure hash
	CloneTypeRenamed  = 2 // identical semantic hash and complexity
	CloneTypeNearMiss = 3 // fuzzy similarity > 0.85
	CloneTypeSemantic = 4 // fuzzy similarity > 0.7
)

const (
	// minCloneTokens is the token-count floor: fragments at or below it are
	// excluded from pairwise comparison to bound cost.
	minCloneTokens = 10

	// fuzzyReportThreshold is the minimum weighted similarity for a type 3/4
	// clone to be reported at all.
	fuzzyReportThreshold = 0.7

	// type3Threshold separates near-miss (type 3) from semantic (type 4).
	type3Threshold = 0.85
)

// ClassifyClone assigns a clone type and similarity to a fragment pair.
// Pure function of the fragments' hashes, complexity, token count, and node
// type: the same inputs always classify the same way. Returns ok=false when
// the pair is below the reporting threshold.
func ClassifyClone(a, b *Fragment) (cloneType int, similarity float64, ok bool) {
	if a.StructureHash == b.StructureHash {
		return CloneTypeExact, 1.0, true
	}
	if a.SemanticHash == b.SemanticHash && a.Complexity == b.Complexity {
		return CloneTypeRenamed, 0.9, true
	}

	tokenSim := ratioSimilarity(float64(a.TokenCount), float64(b.TokenCount))
	complexitySim := ratioSimilarity(float64(a.Complexity), float64(b.Complexity))
	typeSim := 0.0
	if a.NodeType == b.NodeType {
		typeSim = 1.0
	}
	sim := 0.4*tokenSim + 0.4*complexitySim + 0.2*typeSim
	if sim <= fuzzyReportThreshold {
		return 0, 0, false
	}
	if sim > type3Threshold {
		return CloneTypeNearMiss, sim, true
	}
	return CloneTypeSemantic, sim, true
}

// ratioSimilarity is 1 - |a-b|/max(a,b). Two zeros are identical (1.0).
func ratioSimilarity(a, b float64) float64 {
	max := math.Max(a, b)
	if max == 0 {
		return 1.0
	}
	return 1.0 - math.Abs(a-b)/max
}

// DetectClones compares every unordered fragment pair above the token-count
// floor and returns reported clones with canonical ordering
// (Fragment1ID < Fragment2ID), one row per unordered pair.
//
// O(n²) in fragment count; the token floor is the cost bound.
func DetectClones(fragments []*Fragment) []*Clone {
	eligible := make([]*Fragment, 0, len(fragments))
	for _, f := range fragments {
		if f.TokenCount > minCloneTokens {
			eligible = append(eligible, f)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })

	var clones []*Clone
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			a, b := eligible[i], eligible[j]
			cloneType, sim, ok := ClassifyClone(a, b)
			if !ok {
				continue
			}
			lo, hi := a.ID, b.ID
			if lo > hi {
				lo, hi = hi, lo
			}
			clones = append(clones, &store.Clone{
				CloneType:   cloneType,
				Similarity:  sim,
				Fragment1ID: lo,
				Fragment2ID: hi,
			})
		}
	}
	return clones
}

// GroupClones unions fragment ids from reported clones under
// (cloneType, structureHash) keys and materializes groups with at least two
// members, with derived totals and generated descriptions.
func GroupClones(clones []*Clone, fragmentsByID map[int64]*Fragment) ([]*CloneGroup, map[int64][]int64) {
	type groupKey struct {
		cloneType     int
		structureHash string
	}
	memberSets := make(map[groupKey]map[int64]bool)

	add := func(cloneType int, fragID int64) {
		f, ok := fragmentsByID[fragID]
		if !ok {
			return
		}
		key := groupKey{cloneType, f.StructureHash}
		if memberSets[key] == nil {
			memberSets[key] = make(map[int64]bool)
		}
		memberSets[key][fragID] = true
	}
	for _, c := range clones {
		add(c.CloneType, c.Fragment1ID)
		add(c.CloneType, c.Fragment2ID)
	}

	keys := make([]groupKey, 0, len(memberSets))
	for key := range memberSets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].cloneType != keys[j].cloneType {
			return keys[i].cloneType < keys[j].cloneType
		}
		return keys[i].structureHash < keys[j].structureHash
	})

	var groups []*CloneGroup
	members := make(map[int64][]int64)
	for _, key := range keys {
		set := memberSets[key]
		if len(set) < 2 {
			continue
		}
		ids := make([]int64, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		totalLines := 0
		classCount := 0
		for _, id := range ids {
			f := fragmentsByID[id]
			totalLines += f.EndLine - f.StartLine + 1
			if classNodeTypes[f.NodeType] {
				classCount++
			}
		}

		g := &store.CloneGroup{
			CloneType:     key.cloneType,
			StructureHash: key.structureHash,
			MemberCount:   len(ids),
			TotalLines:    totalLines,
		}
		g.PatternDescription, g.RefactoringSuggestion = describeGroup(key.cloneType, len(ids), classCount > len(ids)/2)
		groups = append(groups, g)
		// Keyed by index until durable group ids are assigned at persist time.
		members[int64(len(groups)-1)] = ids
	}
	return groups, members
}

var cloneTypeNames = map[int]string{
	CloneTypeExact:    "exact",
	CloneTypeRenamed:  "renamed",
	CloneTypeNearMiss: "near-miss",
	CloneTypeSemantic: "semantic",
}

func describeGroup(cloneType, memberCount int, classDominant bool) (description, suggestion string) {
	kind := "functions"
	suggestion = "Extract the shared logic into a single function and call it from each site."
	if classDominant {
		kind = "classes"
		suggestion = "Consolidate the duplicated classes behind a shared base class or template."
	}
	description = fmt.Sprintf("%d %s %s duplicated across the codebase", memberCount, cloneTypeNames[cloneType], kind)
	return description, suggestion
}

// Anti-pattern thresholds. Pure rules over the grouping output; no source
// re-scanning.
const (
	copyPasteMemberThreshold  = 3
	shotgunCrossFileThreshold = 5
)

// DetectAntiPatterns derives anti-pattern signals from clone and group
// statistics.
func DetectAntiPatterns(clones []*Clone, groups []*CloneGroup, groupMembers map[int64][]int64, fragmentsByID map[int64]*Fragment) []*AntiPattern {
	var patterns []*AntiPattern

	// Copy-Paste Programming: any group with more than three members.
	for i, g := range groups {
		if g.MemberCount <= copyPasteMemberThreshold {
			continue
		}
		filePath := ""
		if ids := groupMembers[int64(i)]; len(ids) > 0 {
			if f, ok := fragmentsByID[ids[0]]; ok {
				filePath = f.FilePath
			}
		}
		patterns = append(patterns, &store.AntiPattern{
			PatternName: "Copy-Paste Programming",
			Description: fmt.Sprintf("A %s clone group has %d members spanning %d lines.", cloneTypeNames[g.CloneType], g.MemberCount, g.TotalLines),
			Severity:    "high",
			FilePath:    filePath,
			Suggestion:  g.RefactoringSuggestion,
		})
	}

	// Shotgun Surgery: too many clone pairs crossing file boundaries.
	crossFile := 0
	for _, c := range clones {
		f1, ok1 := fragmentsByID[c.Fragment1ID]
		f2, ok2 := fragmentsByID[c.Fragment2ID]
		if ok1 && ok2 && f1.FilePath != f2.FilePath {
			crossFile++
		}
	}
	if crossFile > shotgunCrossFileThreshold {
		patterns = append(patterns, &store.AntiPattern{
			PatternName: "Shotgun Surgery",
			Description: fmt.Sprintf("%d clone pairs span file boundaries; a change to one copy requires edits in many files.", crossFile),
			Severity:    "high",
			Suggestion:  "Centralize the duplicated logic so changes happen in one place.",
		})
	}

	// Feature Envy: clone pairs whose fragments live in different parent
	// contexts. One signal per distinct context pair.
	seen := make(map[string]bool)
	for _, c := range clones {
		f1, ok1 := fragmentsByID[c.Fragment1ID]
		f2, ok2 := fragmentsByID[c.Fragment2ID]
		if !ok1 || !ok2 || f1.ParentContext == f2.ParentContext {
			continue
		}
		ctx1, ctx2 := f1.ParentContext, f2.ParentContext
		if ctx1 > ctx2 {
			ctx1, ctx2 = ctx2, ctx1
		}
		key := ctx1 + "|" + ctx2
		if seen[key] {
			continue
		}
		seen[key] = true
		patterns = append(patterns, &store.AntiPattern{
			PatternName: "Feature Envy",
			Description: fmt.Sprintf("Duplicated logic appears in both %q and %q; one likely belongs with the other's data.", ctx1, ctx2),
			Severity:    "medium",
			FilePath:    f1.FilePath,
			Suggestion:  "Move the shared logic next to the data it operates on.",
		})
	}

	return patterns
}
