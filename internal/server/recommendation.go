package server

import (
	"strings"

	"github.com/Fumiyasu01/aroma-natural/internal/catalog"
)

const (
	moodStress    = "stress"
	moodTired     = "tired"
	moodEnergetic = "energetic"
	moodRelax     = "relax"
	moodEnergize  = "energize"
	moodFocus     = "focus"

	recommendationLimit = 3
)

var validCurrentMoods = map[string]struct{}{
	moodStress:    {},
	moodTired:     {},
	moodEnergetic: {},
}

var validDesiredMoods = map[string]struct{}{
	moodRelax:    {},
	moodEnergize: {},
	moodFocus:    {},
}

func normalizeMood(input string, valid map[string]struct{}) (string, bool) {
	mood := strings.ToLower(strings.TrimSpace(input))
	if mood == "" {
		return "", false
	}
	_, ok := valid[mood]
	return mood, ok
}

type moodRecommendation struct {
	Aromas []catalog.Aroma
	Blend  catalog.BlendRecipe
}

// matchByMood applies the fixed (current, desired) decision table over the
// effect-tag list of every catalog entry. An empty aroma slice is a legal
// outcome; the blend always falls back to the first catalog blend.
func matchByMood(currentMood, desiredMood string, cat *catalog.Catalog) moodRecommendation {
	var predicate func(catalog.Aroma) bool
	switch {
	case currentMood == moodStress && desiredMood == moodRelax:
		predicate = hasAnyEffect("リラックス", "鎮静")
	case currentMood == moodTired && desiredMood == moodEnergize:
		predicate = hasAnyEffect("リフレッシュ", "気分転換")
	case desiredMood == moodFocus:
		predicate = hasAnyEffect("集中力向上", "記憶力向上")
	default:
		predicate = func(a catalog.Aroma) bool {
			return a.Difficulty == catalog.DifficultyBeginner
		}
	}

	matched := make([]catalog.Aroma, 0, cat.Len())
	for _, aroma := range cat.Aromas() {
		if predicate(aroma) {
			matched = append(matched, aroma)
		}
	}

	return moodRecommendation{
		Aromas: matched,
		Blend:  blendForMood(desiredMood, cat.Blends()),
	}
}

func hasAnyEffect(wanted ...string) func(catalog.Aroma) bool {
	return func(a catalog.Aroma) bool {
		for _, effect := range a.Effects {
			for _, w := range wanted {
				if effect == w {
					return true
				}
			}
		}
		return false
	}
}

func blendForMood(desiredMood string, blends []catalog.BlendRecipe) catalog.BlendRecipe {
	keyword := "集中"
	switch desiredMood {
	case moodRelax:
		keyword = "リラックス"
	case moodEnergize:
		keyword = "リフレッシュ"
	}
	for _, blend := range blends {
		for _, effect := range blend.Effects {
			if strings.Contains(effect, keyword) {
				return blend
			}
		}
	}
	if len(blends) > 0 {
		return blends[0]
	}
	return catalog.BlendRecipe{}
}

// rankOwnedFirst is a stable partition: owned aromas keep their relative
// order ahead of the rest, and the result is capped at the recommendation
// limit. No entries are added or dropped besides the cap.
func rankOwnedFirst(matched []catalog.Aroma, ownedIDs map[string]struct{}) []catalog.Aroma {
	owned := make([]catalog.Aroma, 0, len(matched))
	others := make([]catalog.Aroma, 0, len(matched))
	for _, aroma := range matched {
		if _, ok := ownedIDs[aroma.ID]; ok {
			owned = append(owned, aroma)
		} else {
			others = append(others, aroma)
		}
	}
	ranked := append(owned, others...)
	if len(ranked) > recommendationLimit {
		ranked = ranked[:recommendationLimit]
	}
	return ranked
}

func ownedIDSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
