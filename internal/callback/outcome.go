package callback

import "net/url"

// Outcome is the single result every callback path must resolve to: a
// redirect, or a redirect carrying a machine-readable error code. Callbacks
// never surface raw error pages.
type Outcome struct {
	Target string
	Code   string
}

// Redirect is the success variant
func Redirect(target string) Outcome {
	return Outcome{Target: target}
}

// RedirectWithError is the failure variant
func RedirectWithError(target, code string) Outcome {
	return Outcome{Target: target, Code: code}
}

// IsError reports whether the outcome carries an error code
func (o Outcome) IsError() bool {
	return o.Code != ""
}

// URL renders the redirect target, appending the error code as a query
// parameter when present.
func (o Outcome) URL() string {
	if o.Code == "" {
		return o.Target
	}

	u, err := url.Parse(o.Target)
	if err != nil {
		return o.Target + "?error=" + url.QueryEscape(o.Code)
	}
	q := u.Query()
	q.Set("error", o.Code)
	u.RawQuery = q.Encode()
	return u.String()
}
