package bot

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrNotMagnet   = errors.New("not a magnet link")
	ErrMissingHash = errors.New("magnet link has no btih info hash")
	ErrInvalidID   = errors.New("invalid torrent id")
)

// A btih hash is 40 hex or 32 base32 characters.
var (
	btihRegex = regexp.MustCompile(`(?i)[?&]xt=urn:btih:([0-9a-f]{40}|[a-z2-7]{32})(&|$)`)
	idRegex   = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)
)

func ValidateMagnet(uri string) error {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:?") {
		return ErrNotMagnet
	}
	if !btihRegex.MatchString(uri) {
		return ErrMissingHash
	}
	return nil
}

func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return ErrInvalidID
	}
	return nil
}
