package server

import (
	"strconv"
	"strings"
)

type recommendationRequest struct {
	CurrentMood string `json:"current_mood"`
	DesiredMood string `json:"desired_mood"`
}

type recordCreateRequest struct {
	Date           string   `json:"date"`
	Status         string   `json:"status"`
	SelectedAromas []string `json:"selected_aromas"`
	UsedAromas     []string `json:"used_aromas"`
	MoodBefore     *int     `json:"mood_before"`
	MoodAfter      *int     `json:"mood_after"`
	UsageMethod    string   `json:"usage_method"`
	Notes          string   `json:"notes"`
}

type profilePreferences struct {
	Wishlist         []string `json:"wishlist"`
	NotificationTime string   `json:"notification_time"`
}

type profileUpsertRequest struct {
	Nickname        string              `json:"nickname"`
	ExperienceLevel string              `json:"experience_level"`
	OwnedAromas     []string            `json:"owned_aromas"`
	Goals           []string            `json:"goals"`
	Preferences     *profilePreferences `json:"preferences"`
}

type consultRequest struct {
	Message     string `json:"message"`
	SaveHistory bool   `json:"save_history"`
}

type teamCreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsPublic    *bool  `json:"is_public"`
}

type pushSubscribeRequest struct {
	Endpoint string            `json:"endpoint"`
	Keys     map[string]string `json:"keys"`
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func extractNumberFromMap(data map[string]any, key string) float64 {
	if data == nil {
		return 0
	}
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// uniqueTrimmedStrings drops blanks and duplicates while keeping first-seen order.
func uniqueTrimmedStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, item := range values {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

func normalizeExperienceLevel(input string) (string, bool) {
	level := strings.ToLower(strings.TrimSpace(input))
	if level == "" {
		return "beginner", true
	}
	switch level {
	case "beginner", "intermediate", "advanced":
		return level, true
	default:
		return "", false
	}
}

func validMoodScore(score *int) bool {
	if score == nil {
		return true
	}
	return *score >= 1 && *score <= 5
}
