package sources

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
)

// StaticCookies is the simplest AuthProvider: a fixed cookie set, usually
// loaded from a file exported out of a browser session.
type StaticCookies []*http.Cookie

func (s StaticCookies) Cookies() []*http.Cookie { return s }

type cookieRecord struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

// LoadCookieFile reads a JSON cookie list. Missing file is not an error:
// the caller proceeds anonymously and AuthRequired surfaces naturally.
func LoadCookieFile(path string) (StaticCookies, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cookie file: %w", err)
	}

	var records []cookieRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file: %w", err)
	}

	cookies := make(StaticCookies, 0, len(records))
	for _, rec := range records {
		path := rec.Path
		if path == "" {
			path = "/"
		}
		cookies = append(cookies, &http.Cookie{
			Name:   rec.Name,
			Value:  rec.Value,
			Domain: rec.Domain,
			Path:   path,
		})
	}
	return cookies, nil
}
