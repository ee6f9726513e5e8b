package advisory

// Question is a validated advisory request.
type Question struct {
	Question string  `json:"question"`
	Context  Context `json:"context"`
}

// Context carries what the caller already knows about the current week.
type Context struct {
	AlreadyLoggedThisWeek []string          `json:"alreadyLoggedThisWeek,omitempty"`
	RecognizedPlants      []RecognizedPlant `json:"recognizedPlants,omitempty"`
	WeekProgress          *WeekProgress     `json:"weekProgress,omitempty"`
}

// RecognizedPlant is an item the caller identified earlier, usually from a photo.
type RecognizedPlant struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Points   *float64 `json:"points,omitempty"`
}

// WeekProgress summarises the caller's tally so far.
type WeekProgress struct {
	Points        float64 `json:"points"`
	Target        float64 `json:"target,omitempty"`
	UniquePlants  int     `json:"uniquePlants,omitempty"`
	DaysRemaining int     `json:"daysRemaining,omitempty"`
}

// RecognizedNames lists the names of the recognized plants in order.
func (c Context) RecognizedNames() []string {
	if len(c.RecognizedPlants) == 0 {
		return nil
	}
	names := make([]string, 0, len(c.RecognizedPlants))
	for _, p := range c.RecognizedPlants {
		names = append(names, p.Name)
	}
	return names
}

// RecognizedItem is one plant identified in a photo.
type RecognizedItem struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	Points         float64 `json:"points"`
	MatchedCatalog bool    `json:"matchedCatalog"`
	Confidence     float64 `json:"confidence"`
}
