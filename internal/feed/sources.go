package feed

import (
	"fmt"
	"regexp"
	"strings"

	"mvdan.cc/xurls/v2"
)

const minPartsForTelegramChannelAtSignSlug = 3

var telegramAtSignSlugRe = regexp.MustCompile(`(\s|^)@(\w{5,32})(\s|$)`)

// FindSourceURLs extracts https URLs and @channel mentions from free text.
// Channel mentions become canonical t.me/s URLs. The result has no duplicates.
func FindSourceURLs(text string) ([]string, error) {
	text = strings.TrimSpace(text)

	httpsURLRe, err := xurls.StrictMatchingScheme("https://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	var urls []string
	seen := make(map[string]struct{})

	add := func(u string) {
		if ok, slug := IsTelegramChannelURL(u); ok {
			u = TelegramChannelCanonicalURL(slug)
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}

	for _, u := range httpsURLRe.FindAllString(text, -1) {
		add(strings.TrimSpace(u))
	}

	for _, m := range telegramAtSignSlugRe.FindAllStringSubmatch(text, -1) {
		if len(m) < minPartsForTelegramChannelAtSignSlug {
			continue
		}

		slug := strings.TrimSpace(m[2])
		if !telegramSlugRe.MatchString(slug) {
			continue
		}

		add(TelegramChannelCanonicalURL(slug))
	}

	return urls, nil
}
