package ai

import (
	"fmt"
	"strings"

	"plant-sage/backend/internal/advisory"
)

const advisorySystemPrompt = "You are Sage, the rules assistant for a plant-diversity tracker where people aim to eat 30 different plants a week. " +
	"Whole plants (vegetables, fruit, wholegrains, legumes, nuts, seeds) score 1 point once per week. Herbs, spices, coffee and tea score 0.25. " +
	"Refined grains score 0.5. Juices, oils and heavily processed foods score 0. Colour or variety variants of one species count as the same plant. " +
	"Reply with a strict JSON object containing keys verdict, points, answer, reason, confidence and optionally followUpQuestion. " +
	"verdict must be one of counts, partial, does_not_count, duplicate_week or uncertain. points must be a number, or null when verdict is uncertain. " +
	"confidence must be a decimal between 0 and 1. Emit nothing outside the JSON object."

const recognitionSystemPrompt = "You identify the distinct edible plants visible in a meal photo for a plant-diversity tracker. " +
	"Reply with a strict JSON object of the form {\"plants\":[{\"name\":string,\"category\":string,\"points\":number,\"confidence\":number}]}. " +
	"category is one of vegetable, fruit, wholegrain, legume, nut, seed, herb, spice, or other. points is 1 for whole plants, 0.25 for herbs and spices. " +
	"confidence is a decimal between 0 and 1. Return an empty plants array when no plants are visible. Emit nothing outside the JSON object."

// AdvisoryMessages builds the chat turns for a text question.
func AdvisoryMessages(q advisory.Question) []Message {
	return []Message{
		{Role: "system", Content: advisorySystemPrompt},
		{Role: "user", Content: buildAdvisoryPrompt(q)},
	}
}

func buildAdvisoryPrompt(q advisory.Question) string {
	builder := &strings.Builder{}
	fmt.Fprintf(builder, "Question: %s\n", strings.TrimSpace(q.Question))
	if logged := q.Context.AlreadyLoggedThisWeek; len(logged) > 0 {
		fmt.Fprintf(builder, "Already logged this week: %s\n", strings.Join(logged, ", "))
	}
	if len(q.Context.RecognizedPlants) > 0 {
		builder.WriteString("Recognized in the user's photo:\n")
		for _, p := range q.Context.RecognizedPlants {
			fmt.Fprintf(builder, "- %s", p.Name)
			if p.Category != "" {
				fmt.Fprintf(builder, " (%s)", p.Category)
			}
			if p.Points != nil {
				fmt.Fprintf(builder, ", %.2f points", *p.Points)
			}
			builder.WriteString("\n")
		}
	}
	if wp := q.Context.WeekProgress; wp != nil {
		fmt.Fprintf(builder, "Week progress: %.2f points", wp.Points)
		if wp.Target > 0 {
			fmt.Fprintf(builder, " of %.0f", wp.Target)
		}
		if wp.UniquePlants > 0 {
			fmt.Fprintf(builder, ", %d unique plants", wp.UniquePlants)
		}
		if wp.DaysRemaining > 0 {
			fmt.Fprintf(builder, ", %d days left", wp.DaysRemaining)
		}
		builder.WriteString("\n")
	}
	builder.WriteString("If the plant was already logged this week, answer duplicate_week with 0 points.\n")
	builder.WriteString("Keep answer to one friendly sentence and reason to one short sentence.\n")
	return builder.String()
}

// RecognitionMessages builds the chat turns for a photo, sent as an
// image_url content part.
func RecognitionMessages(dataURL string) []Message {
	return []Message{
		{Role: "system", Content: recognitionSystemPrompt},
		{Role: "user", Content: []ContentPart{
			{Type: "text", Text: "List the plants in this photo."},
			{Type: "image_url", ImageURL: &ImageURL{URL: dataURL, Detail: "low"}},
		}},
	}
}
