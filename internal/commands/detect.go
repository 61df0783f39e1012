package commands

import (
	"net/url"
	"strings"
)

// handleYouTube builds a deterministic YouTube search URL for /youtube and
// /yt. No network call: the platform unfurls the link client-side.
func handleYouTube(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return "Usage: /youtube <search terms>"
	}
	return "https://www.youtube.com/results?search_query=" + url.QueryEscape(query)
}

// youtubeIntentPrefixes are the natural-language openers UpdateWorker
// recognises before handing plain text to the agent, rewriting the message
// into a /youtube command instead of a turn. Matching is prefix-based and
// case-insensitive, grounded on the common "find me a video of X" phrasing.
var youtubeIntentPrefixes = []string{
	"find me a video of ",
	"find me a video about ",
	"play ",
	"search youtube for ",
	"look up a video on ",
	"find a youtube video of ",
	"show me a video of ",
}

// DetectYouTubeIntent reports whether text is a natural-language request for
// a video and, if so, returns the search query with the triggering phrase
// stripped. It never touches the network; it is pure text matching.
func DetectYouTubeIntent(text string) (query string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range youtubeIntentPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return strings.TrimSpace(text[len(prefix):]), true
		}
	}
	return "", false
}
