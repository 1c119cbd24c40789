package feed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	telegramHost = "t.me"
)

var (
	telegramSlugRe = regexp.MustCompile(`^\w{5,32}$`)
	// Lines naming the procuring party in tender channel posts.
	customerLineRe = regexp.MustCompile(`(?i)^(заказчик|организатор|покупатель)(\s|:|$)|ИНН\s*\d{10,12}`)
)

// channelPost is one post of a public channel preview page.
type channelPost struct {
	link      string
	text      string
	customer  string
	docLinks  []string
	published time.Time
}

// canonicalPostURL drops the query and fragment of a post link (?single, ?embed).
func canonicalPostURL(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return raw
	}

	u.RawQuery, u.Fragment = "", ""
	return u.String()
}

// TelegramChannelCanonicalURL returns the web preview URL of a channel.
func TelegramChannelCanonicalURL(slug string) string {
	if slug = strings.TrimSpace(slug); slug == "" {
		return ""
	}
	return "https://" + telegramHost + "/s/" + slug
}

// IsTelegramChannelURL reports whether raw points at a public channel or one of its posts and
// returns the channel slug.
func IsTelegramChannelURL(raw string) (bool, string) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host != telegramHost {
		return false, ""
	}

	path := strings.Trim(u.Path, "/")
	if rest, ok := strings.CutPrefix(path, "s/"); ok {
		path = rest
	}

	slug, _, _ := strings.Cut(path, "/")
	if !telegramSlugRe.MatchString(slug) {
		return false, ""
	}

	return true, slug
}

// parseChannelPage reads the web preview of a public channel and returns its posts and title.
func parseChannelPage(body []byte) ([]channelPost, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create document from reader: %w", err)
	}

	title := strings.TrimSpace(doc.Find("meta[property='og:title']").AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").Text())
	}

	messages := doc.Find(".tgme_widget_message")
	if messages.Length() == 0 && title == "" {
		return nil, "", errors.New("not a Telegram channel page")
	}

	var (
		posts []channelPost
		errs  []error
	)

	messages.Each(func(i int, message *goquery.Selection) {
		post, postErr := readChannelPost(message)
		if postErr != nil {
			errs = append(errs, fmt.Errorf("read post %d: %w", i, postErr))
			return
		}
		posts = append(posts, post)
	})

	return posts, title, errors.Join(errs...)
}

func readChannelPost(message *goquery.Selection) (channelPost, error) {
	date := message.Find("a.tgme_widget_message_date").First()

	link := canonicalPostURL(date.AttrOr("href", ""))
	if link == "" {
		return channelPost{}, errors.New("post link is empty")
	}

	post := channelPost{link: link}

	if datetime := strings.TrimSpace(date.Find("time").AttrOr("datetime", "")); datetime != "" {
		published, err := time.Parse(time.RFC3339, datetime)
		if err != nil {
			return channelPost{}, fmt.Errorf("parse datetime: %w", err)
		}
		post.published = published
	}

	var lines []string
	message.Find(".tgme_widget_message_text, .tgme_widget_message_caption").Each(
		func(_ int, body *goquery.Selection) {
			body.Find("br").ReplaceWithHtml("\n")
			if fragment := strings.TrimSpace(body.Text()); fragment != "" {
				lines = append(lines, fragment)
			}

			body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
				post.addDocLink(a.AttrOr("href", ""))
			})
		},
	)
	message.Find("a.tgme_widget_message_inline_button[href]").Each(func(_ int, a *goquery.Selection) {
		post.addDocLink(a.AttrOr("href", ""))
	})

	post.text = strings.Join(lines, "\n")
	post.customer = customerLine(post.text)

	return post, nil
}

// addDocLink keeps links to procurement documents, skipping Telegram's own links.
func (p *channelPost) addDocLink(href string) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.Host == telegramHost {
		return
	}

	href = u.String()
	if !slices.Contains(p.docLinks, href) {
		p.docLinks = append(p.docLinks, href)
	}
}

// summary is the post text followed by document links not already quoted in it.
func (p channelPost) summary() string {
	summary := p.text
	for _, link := range p.docLinks {
		if strings.Contains(summary, link) {
			continue
		}
		if summary != "" {
			summary += "\n"
		}
		summary += link
	}
	return summary
}

func customerLine(text string) string {
	for line := range strings.Lines(text) {
		line = strings.Join(strings.Fields(line), " ")
		if customerLineRe.MatchString(line) {
			return line
		}
	}
	return ""
}
