package normalize

import (
	"github.com/okian/gather/internal/domain/model"
	"github.com/okian/gather/pkg/textnorm"
)

// categoryRules is checked in order; the first rule with a matching keyword wins.
var categoryRules = []struct {
	category model.Category
	keywords []string
}{
	{model.CategoryComedy, []string{"comedy", "standup", "improv"}},
	{model.CategoryFilm, []string{"film", "movie", "movies", "cinema", "screening"}},
	{model.CategoryTheater, []string{"theater", "theatre", "musical", "opera", "ballet", "dance", "broadway"}},
	{model.CategoryMusic, []string{"music", "concert", "concerts", "jazz", "rock", "pop", "hiphop", "hip", "dj", "band", "festival", "classical", "blues"}},
	{model.CategorySports, []string{"sport", "sports", "football", "hockey", "basketball", "baseball", "soccer", "marathon", "fitness"}},
	{model.CategoryArts, []string{"art", "arts", "gallery", "exhibit", "exhibition", "museum", "visual"}},
	{model.CategoryFood, []string{"food", "drink", "drinks", "wine", "beer", "culinary", "tasting", "brunch"}},
	{model.CategoryNightlife, []string{"nightlife", "club", "party", "bar"}},
	{model.CategoryFamily, []string{"family", "kids", "children", "youth"}},
	{model.CategoryBusiness, []string{"business", "networking", "conference", "startup", "professional", "seminar", "science", "technology"}},
	{model.CategoryCommunity, []string{"community", "charity", "volunteer", "meetup", "cultural", "religion"}},
}

// Categorize maps free-form provider labels to a canonical category.
func Categorize(labels ...string) model.Category {
	for _, label := range labels {
		tokens := textnorm.Tokens(label)
		if len(tokens) == 0 {
			continue
		}
		for _, rule := range categoryRules {
			for _, kw := range rule.keywords {
				for _, tok := range tokens {
					if tok == kw {
						return rule.category
					}
				}
			}
		}
	}
	return model.CategoryOther
}
