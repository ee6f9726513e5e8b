package rules

import (
	"fmt"

	"plant-sage/backend/internal/advisory"
)

// Rule is a hand-authored fact pattern. Aliases map surface phrases onto a
// canonical subject; Decide produces the verdict for a fresh (non-duplicate)
// mention of one of those subjects.
type Rule struct {
	ID      string
	Aliases map[string]string
	Labels  map[string]string
	Decide  func(subject, label string) advisory.Verdict
}

// Label returns the display label for a canonical subject.
func (r Rule) Label(subject string) string {
	if label, ok := r.Labels[subject]; ok && label != "" {
		return label
	}
	return subject
}

// Default returns the built-in rule table.
func Default() []Rule {
	return []Rule{
		{
			ID: "coffee_tea",
			Aliases: map[string]string{
				"coffee":     "coffee",
				"espresso":   "coffee",
				"latte":      "coffee",
				"cappuccino": "coffee",
				"americano":  "coffee",
				"flat white": "coffee",
				"cold brew":  "coffee",
				"macchiato":  "coffee",
				"mocha":      "coffee",
				"tea":        "tea",
				"green tea":  "tea",
				"black tea":  "tea",
				"white tea":  "tea",
				"oolong":     "tea",
				"matcha":     "tea",
				"chai":       "tea",
				"earl grey":  "tea",
			},
			Labels: map[string]string{"coffee": "coffee", "tea": "tea"},
			Decide: func(subject, label string) advisory.Verdict {
				return advisory.Verdict{
					Verdict:    advisory.Counts,
					Points:     advisory.PointsOf(0.25),
					Answer:     fmt.Sprintf("Yes, %s counts as a quarter plant point.", label),
					Reason:     "Coffee and tea come from plants but are consumed in small amounts, so each earns 0.25 points once per week.",
					Confidence: 1,
				}
			},
		},
		{
			ID: "herbs_spices",
			Aliases: map[string]string{
				"basil":         "basil",
				"oregano":       "oregano",
				"thyme":         "thyme",
				"rosemary":      "rosemary",
				"parsley":       "parsley",
				"cilantro":      "coriander",
				"coriander":     "coriander",
				"mint":          "mint",
				"dill":          "dill",
				"chives":        "chives",
				"cinnamon":      "cinnamon",
				"turmeric":      "turmeric",
				"cumin":         "cumin",
				"paprika":       "paprika",
				"nutmeg":        "nutmeg",
				"cardamom":      "cardamom",
				"black pepper":  "black_pepper",
				"peppercorn":    "black_pepper",
				"chili flakes":  "chili",
				"chilli flakes": "chili",

				"red pepper flakes":  "red_pepper_flakes",
				"crushed red pepper": "red_pepper_flakes",
			},
			Labels: map[string]string{
				"black_pepper":      "black pepper",
				"chili":             "chili flakes",
				"red_pepper_flakes": "red pepper flakes",
			},
			Decide: func(subject, label string) advisory.Verdict {
				return advisory.Verdict{
					Verdict:    advisory.Counts,
					Points:     advisory.PointsOf(0.25),
					Answer:     fmt.Sprintf("Yes, %s counts as a quarter plant point.", label),
					Reason:     "Herbs and spices are used in small quantities, so each different one earns 0.25 points per week.",
					Confidence: 1,
				}
			},
		},
		{
			ID: "bell_pepper",
			Aliases: map[string]string{
				"bell pepper":        "bell_pepper",
				"red bell pepper":    "bell_pepper",
				"green bell pepper":  "bell_pepper",
				"yellow bell pepper": "bell_pepper",
				"orange bell pepper": "bell_pepper",
				"red pepper":         "bell_pepper",
				"green pepper":       "bell_pepper",
				"yellow pepper":      "bell_pepper",
				"orange pepper":      "bell_pepper",
				"sweet pepper":       "bell_pepper",
				"capsicum":           "bell_pepper",
			},
			Labels: map[string]string{"bell_pepper": "bell pepper"},
			Decide: wholePlant("Every colour of bell pepper is the same species, so they share one point per week."),
		},
		{
			ID: "onion",
			Aliases: map[string]string{
				"onion":         "onion",
				"red onion":     "onion",
				"white onion":   "onion",
				"yellow onion":  "onion",
				"brown onion":   "onion",
				"spanish onion": "onion",
			},
			Decide: wholePlant("Red, white and yellow onions are varieties of one species, so they share one point per week."),
		},
		{
			ID: "apple",
			Aliases: map[string]string{
				"apple":        "apple",
				"red apple":    "apple",
				"green apple":  "apple",
				"granny smith": "apple",
				"gala apple":   "apple",
				"fuji apple":   "apple",
				"honeycrisp":   "apple",
				"pink lady":    "apple",
			},
			Decide: wholePlant("Apple varieties are all the same species, so they share one point per week."),
		},
		{
			ID: "refined_grains",
			Aliases: map[string]string{
				"white rice":  "white_rice",
				"white bread": "white_bread",
				"white pasta": "white_pasta",
				"white flour": "white_flour",
			},
			Labels: map[string]string{
				"white_rice":  "white rice",
				"white_bread": "white bread",
				"white_pasta": "white pasta",
				"white_flour": "white flour",
			},
			Decide: func(subject, label string) advisory.Verdict {
				return advisory.Verdict{
					Verdict:          advisory.Partial,
					Points:           advisory.PointsOf(0.5),
					Answer:           fmt.Sprintf("%s counts for half a point.", capitalize(label)),
					Reason:           "Refined grains have lost most of the bran and germ, so they earn a partial point.",
					Confidence:       1,
					FollowUpQuestion: "Was it a wholegrain version? Wholegrains count as a full point.",
				}
			},
		},
		{
			ID: "juice",
			Aliases: map[string]string{
				"juice":        "juice",
				"fruit juice":  "juice",
				"orange juice": "juice",
				"apple juice":  "juice",
				"grape juice":  "juice",
			},
			Decide: nonCounting("Juice strips away the fibre of the whole fruit, so it does not count. Eat the fruit itself instead."),
		},
		{
			ID: "oil",
			Aliases: map[string]string{
				"olive oil":     "oil",
				"coconut oil":   "oil",
				"vegetable oil": "oil",
				"sunflower oil": "oil",
				"rapeseed oil":  "oil",
				"canola oil":    "oil",
			},
			Labels: map[string]string{"oil": "plant oil"},
			Decide: nonCounting("Extracted oils contain none of the plant's fibre, so they do not count."),
		},
	}
}

func wholePlant(reason string) func(subject, label string) advisory.Verdict {
	return func(subject, label string) advisory.Verdict {
		return advisory.Verdict{
			Verdict:    advisory.Counts,
			Points:     advisory.PointsOf(1),
			Answer:     fmt.Sprintf("Yes, %s counts as one plant point.", label),
			Reason:     reason,
			Confidence: 1,
		}
	}
}

func nonCounting(reason string) func(subject, label string) advisory.Verdict {
	return func(subject, label string) advisory.Verdict {
		return advisory.Verdict{
			Verdict:    advisory.DoesNotCount,
			Points:     advisory.PointsOf(0),
			Answer:     fmt.Sprintf("No, %s does not count towards your plants.", label),
			Reason:     reason,
			Confidence: 1,
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}

// duplicateHints are phrases that mark a question as a repeat within the week.
var duplicateHints = []string{
	"already logged",
	"already counted",
	"already had",
	"already ate",
	"already eaten",
	"already added",
	"logged it already",
	"counted it already",
	"again this week",
	"second time this week",
	"earlier this week",
	"twice this week",
	"count twice",
	"count it again",
	"log it again",
}
