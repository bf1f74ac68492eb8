// Package dedup suppresses repeated observations of the same notification.
package dedup

import "notification-relay/internal/models"

// BodyPrefixLen is how many characters of the body take part in identity.
const BodyPrefixLen = 50

// Fingerprint is the coarse identity of a candidate. Two candidates with the
// same source app, title and body prefix are treated as the same event.
type Fingerprint struct {
	SourceApp  string
	Title      string
	BodyPrefix string
}

// FingerprintOf derives the identity of a candidate. It is pure.
func FingerprintOf(c models.CandidateEvent) Fingerprint {
	return Fingerprint{
		SourceApp:  c.SourceApp,
		Title:      c.Title,
		BodyPrefix: prefix(c.Body, BodyPrefixLen),
	}
}

// String renders the fingerprint as "app:title:prefix" for logs.
func (f Fingerprint) String() string {
	return f.SourceApp + ":" + f.Title + ":" + f.BodyPrefix
}

func prefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
