package knowledge

import (
	"fmt"
	"strings"
)

const (
	summaryMaxRunes = 200
	resourcesURL    = "https://cyberguardng.ca/resources#"
)

// Summarize shapes an article for a spoken answer.
func Summarize(a Article) SearchResult {
	url := strings.TrimSpace(a.URL)
	if url == "" {
		url = resourcesURL + a.ID
	}
	return SearchResult{
		Title:    a.Title,
		Category: a.Category,
		Summary:  truncate(a.Content, summaryMaxRunes),
		URL:      url,
	}
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}

// FormatForVoice turns search results into one sentence the model can read out.
func FormatForVoice(results []SearchResult) string {
	switch len(results) {
	case 0:
		return "I don't have specific information on that topic right now, but I'd be happy to have one of our security specialists call you back with details."
	case 1:
		return fmt.Sprintf("I found information about %s. %s Would you like me to email you more details, or have a specialist call you?", results[0].Title, results[0].Summary)
	default:
		titles := make([]string, 0, len(results))
		for _, r := range results {
			titles = append(titles, r.Title)
		}
		return fmt.Sprintf("I found %d relevant articles: %s. Would you like me to send these to your email, or connect you with a specialist to discuss?", len(results), strings.Join(titles, ", "))
	}
}

// FormatServiceForVoice describes one catalogue entry.
func FormatServiceForVoice(svc Service) string {
	return fmt.Sprintf("%s. %s Timeline: %s. Contact: %s.", svc.Title, svc.Description, svc.Timeline, svc.Contact)
}
