package identity

import (
	"net/url"
	"strings"
)

// URL parameter names the identity provider uses to deliver tokens. They can
// arrive in the query string or in the fragment depending on the flow.
const (
	paramAccessToken  = "access_token"
	paramRefreshToken = "refresh_token"
	paramTokenHash    = "token_hash"
	paramType         = "type"
	paramCode         = "code"
)

var tokenParams = []string{
	paramAccessToken,
	paramRefreshToken,
	paramTokenHash,
	paramType,
	paramCode,
}

// TokenBundle is the normalized token surface extracted from a URL. A zero
// bundle is a valid state, not an error.
type TokenBundle struct {
	AccessToken  string
	RefreshToken string
	TokenHash    string
	Type         string
	Code         string
}

// IsZero reports whether the URL carried no tokens at all.
func (t TokenBundle) IsZero() bool {
	return t == TokenBundle{}
}

// HasSessionPair reports whether the bundle can be exchanged as a bearer
// pair via SetSession.
func (t TokenBundle) HasSessionPair() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

// HasVerification reports whether the bundle carries a one-time verification
// token to be exchanged via VerifyOTP.
func (t TokenBundle) HasVerification() bool {
	return t.TokenHash != "" || t.Code != ""
}

// VerificationToken returns the one-time token, preferring token_hash.
func (t TokenBundle) VerificationToken() string {
	if t.TokenHash != "" {
		return t.TokenHash
	}
	return t.Code
}

// ExtractTokenBundle parses the token surface out of rawURL. Both the query
// string and the fragment are consulted; per field, the fragment value wins
// and the query value fills in only when the fragment lacks it. The function
// is pure and never fails: malformed input yields a zero bundle.
func ExtractTokenBundle(rawURL string) TokenBundle {
	if rawURL == "" {
		return TokenBundle{}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return TokenBundle{}
	}

	query := u.Query()
	fragment := parseFragmentValues(u.Fragment)

	pick := func(key string) string {
		if v := fragment.Get(key); v != "" {
			return v
		}
		return query.Get(key)
	}

	return TokenBundle{
		AccessToken:  pick(paramAccessToken),
		RefreshToken: pick(paramRefreshToken),
		TokenHash:    pick(paramTokenHash),
		Type:         pick(paramType),
		Code:         pick(paramCode),
	}
}

// StripTokenParams returns rawURL with every token parameter removed from
// both the query string and the fragment. The caller rewrites the address
// bar with the result; invalid input is returned unchanged.
func StripTokenParams(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := u.Query()
	for _, key := range tokenParams {
		query.Del(key)
	}
	u.RawQuery = query.Encode()

	fragment := parseFragmentValues(u.Fragment)
	if len(fragment) > 0 {
		for _, key := range tokenParams {
			fragment.Del(key)
		}
		u.Fragment = fragment.Encode()
	}

	return u.String()
}

// parseFragmentValues reads "#access_token=...&type=magiclink" style
// fragments. Fragments that are not key-value encoded come back empty.
func parseFragmentValues(fragment string) url.Values {
	fragment = strings.TrimPrefix(fragment, "#")
	if fragment == "" || !strings.Contains(fragment, "=") {
		return url.Values{}
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}
