package cf

import (
	"errors"
	"fmt"
)

// CfChallengeError is returned when a Cloudflare challenge is still in
// place after every bypass path has been tried.
type CfChallengeError struct {
	URL        string
	StatusCode int
	Indicators []string
}

func (e *CfChallengeError) Error() string {
	return fmt.Sprintf("cf_challenge: status=%d url=%s", e.StatusCode, e.URL)
}

// IscfChallenge checks if an error is, or wraps, a CfChallengeError
func IscfChallenge(err error) (*CfChallengeError, bool) {
	var cfErr *CfChallengeError
	if errors.As(err, &cfErr) {
		return cfErr, true
	}
	return nil, false
}
