// Package query normalizes free-text search input and recognizes Spotify track
// links pasted into the search box.
package query

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MinPartsForTrackURI is the number of parts in spotify:track:<id>
	MinPartsForTrackURI = 3
)

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	trackIDRegex    = regexp.MustCompile(`^[A-Za-z0-9]+$`)

	spotifyDomains = map[string]bool{
		"open.spotify.com": true,
		"spotify.com":      true,
		"play.spotify.com": true,
	}

	// ErrNotTrackLink is returned by ExtractTrackID for input that is not a track link.
	ErrNotTrackLink = errors.New("not a spotify track link")
)

// Query is a parsed search box input.
type Query struct {
	// Text is the normalized query sent to the search endpoint.
	Text string
	// TrackID is set when the input was a Spotify track link or URI.
	TrackID string
}

// IsTrackLink reports whether the query resolves to a single track.
func (q Query) IsTrackLink() bool {
	return q.TrackID != ""
}

// Len is the query length in runes.
func (q Query) Len() int {
	return utf8.RuneCountInString(q.Text)
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(raw string) Query {
	text := p.Normalize(raw)

	if id, err := p.ExtractTrackID(text); err == nil {
		return Query{Text: text, TrackID: id}
	}

	return Query{Text: text}
}

// Normalize applies NFKC and collapses all whitespace, newlines included.
func (p *Parser) Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = whitespaceRegex.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// ExtractTrackID returns the track id of a spotify:track:<id> URI or an
// open.spotify.com/track/<id> link (locale prefixes and tracking params allowed).
func (p *Parser) ExtractTrackID(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,!?;")

	if strings.HasPrefix(raw, "spotify:track:") {
		parts := strings.Split(raw, ":")
		if len(parts) >= MinPartsForTrackURI && trackIDRegex.MatchString(parts[2]) {
			return parts[2], nil
		}
		return "", ErrNotTrackLink
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", ErrNotTrackLink
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrNotTrackLink
	}

	if !spotifyDomains[strings.ToLower(u.Hostname())] {
		return "", ErrNotTrackLink
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if part == "track" && i+1 < len(pathParts) && trackIDRegex.MatchString(pathParts[i+1]) {
			return pathParts[i+1], nil
		}
	}

	return "", ErrNotTrackLink
}
