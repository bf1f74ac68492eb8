// Package classifier turns raw candidates into delivery-ready relay events.
package classifier

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"notification-relay/internal/dedup"
	"notification-relay/internal/errors"
	"notification-relay/internal/models"
)

// ErrMalformedCandidate is returned for candidates that carry no usable text.
var ErrMalformedCandidate = stderrors.New("malformed candidate")

var (
	// DefaultMentionPatterns are matched case-insensitively against title and body.
	DefaultMentionPatterns = []string{
		"mentioned you",
		"sent a direct message",
		"replied to your thread",
		"reacted to your message",
		"@channel",
		"@here",
		"@everyone",
		"new message in",
		"dm from",
		"メンション",
		"ダイレクトメッセージ",
		"スレッドに返信",
		"リアクション",
		"返信しました",
		"からメッセージ",
	}

	// DefaultChannelIndicators mark a message as posted to a channel.
	DefaultChannelIndicators = []string{"#", "channel", "チャンネル"}

	// DefaultEmailDomains are never read as @-mentions.
	DefaultEmailDomains = []string{
		"gmail.com",
		"outlook.com",
		"hotmail.com",
		"yahoo.com",
		"icloud.com",
		"live.com",
	}
)

// Options configures filtering and labelling.
type Options struct {
	Platform          string // first half of the sender label, e.g. "Windows"
	Source            string // wire "source" tag
	PriorityKeyword   string // matched against source app and title
	PriorityOnly      bool
	MentionOnly       bool
	MentionPatterns   []string
	ChannelIndicators []string
	EmailDomains      []string
}

// DefaultOptions returns the desktop monitor defaults with every filter off.
func DefaultOptions() Options {
	return Options{
		Platform:          "Windows",
		Source:            "background_monitor",
		PriorityKeyword:   "slack",
		MentionPatterns:   DefaultMentionPatterns,
		ChannelIndicators: DefaultChannelIndicators,
		EmailDomains:      DefaultEmailDomains,
	}
}

// SeenMarker is the part of the dedup window the classifier needs.
type SeenMarker interface {
	MarkSeen(fp dedup.Fingerprint) bool
}

// Classifier is stateless apart from its options; dedup state lives in the
// window passed to Classify.
type Classifier struct {
	opts         Options
	keyword      string
	mentions     []string
	channels     []string
	emailDomains map[string]struct{}
	now          func() time.Time
	newID        func() uuid.UUID
}

// New builds a Classifier. Patterns are lower-cased once here.
func New(opts Options) *Classifier {
	c := &Classifier{
		opts:         opts,
		keyword:      strings.ToLower(strings.TrimSpace(opts.PriorityKeyword)),
		mentions:     lowerAll(opts.MentionPatterns),
		channels:     lowerAll(opts.ChannelIndicators),
		emailDomains: make(map[string]struct{}, len(opts.EmailDomains)),
		now:          time.Now,
		newID:        uuid.New,
	}
	for _, d := range lowerAll(opts.EmailDomains) {
		c.emailDomains[d] = struct{}{}
	}
	return c
}

// Classify deduplicates and filters a candidate. It returns ok=false when the
// candidate is a duplicate or filtered out; neither case is an error.
func (c *Classifier) Classify(cand models.CandidateEvent, window SeenMarker) (models.RelayEvent, bool, error) {
	if err := validate(cand); err != nil {
		return models.RelayEvent{}, false, errors.NewClassification("classify", err)
	}

	if window.MarkSeen(dedup.FingerprintOf(cand)) {
		return models.RelayEvent{}, false, nil
	}

	priority := c.IsPriority(cand)
	if c.opts.PriorityOnly && !priority {
		return models.RelayEvent{}, false, nil
	}
	if c.opts.MentionOnly && priority && !c.looksLikeMention(cand.Title, cand.Body) {
		return models.RelayEvent{}, false, nil
	}

	ts := cand.CapturedAt
	if ts.IsZero() {
		ts = c.now()
	}
	return models.RelayEvent{
		ID:          c.newID(),
		Type:        models.EventTypeNotification,
		Title:       cand.Title,
		Message:     cand.Body,
		SenderLabel: fmt.Sprintf("%s (%s)", c.opts.Platform, cand.SourceApp),
		SourceApp:   cand.SourceApp,
		Source:      c.opts.Source,
		IsPriority:  priority,
		Timestamp:   ts,
	}, true, nil
}

// IsPriority reports whether the priority keyword appears in the source app or title.
func (c *Classifier) IsPriority(cand models.CandidateEvent) bool {
	if c.keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(cand.SourceApp), c.keyword) ||
		strings.Contains(strings.ToLower(cand.Title), c.keyword)
}

// Kind labels a priority notification for logs.
func (c *Classifier) Kind(title, body string) string {
	full := strings.ToLower(title + " " + body)
	switch {
	case containsAny(full, "direct message", "dm from", "sent you", "ダイレクトメッセージ"):
		return "DM"
	case containsAny(full, "mentioned", "pinged", "メンション") || c.hasAtMention(body):
		return "MENTION"
	case containsAny(full, "thread", "replied", "スレッド"):
		return "THREAD"
	case containsAny(full, "reacted", "リアクション"):
		return "REACTION"
	default:
		return "MESSAGE"
	}
}

func (c *Classifier) looksLikeMention(title, body string) bool {
	full := strings.ToLower(title + " " + body)
	if containsAny(full, c.mentions...) {
		return true
	}
	// No channel marker at all reads as a direct message.
	if !containsAny(full, c.channels...) {
		return true
	}
	return c.hasAtMention(body)
}

// hasAtMention finds an "@handle" token that is not part of an email address.
func (c *Classifier) hasAtMention(text string) bool {
	for _, tok := range strings.Fields(text) {
		at := strings.IndexByte(tok, '@')
		if at < 0 {
			continue
		}
		local := emailLocalPart(tok[:at])
		rest := strings.Trim(strings.ToLower(tok[at+1:]), ".,;:!?()[]<>\"'")
		if rest == "" {
			continue
		}
		if local != "" && c.isEmailDomain(rest) {
			continue
		}
		return true
	}
	return false
}

// emailLocalPart returns the trailing run of characters allowed before the
// "@" of an address, so "(@bob" and "cc:@bob" have an empty local part.
func emailLocalPart(prefix string) string {
	i := len(prefix)
	for i > 0 {
		ch := prefix[i-1]
		if !(ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || strings.IndexByte("._%+-", ch) >= 0) {
			break
		}
		i--
	}
	return prefix[i:]
}

func (c *Classifier) isEmailDomain(domain string) bool {
	if _, ok := c.emailDomains[domain]; ok {
		return true
	}
	dot := strings.LastIndexByte(domain, '.')
	return dot > 0 && dot < len(domain)-1
}

func validate(cand models.CandidateEvent) error {
	for _, s := range []string{cand.SourceApp, cand.Title, cand.Body} {
		if !utf8.ValidString(s) {
			return fmt.Errorf("%w: invalid utf-8", ErrMalformedCandidate)
		}
	}
	if strings.TrimSpace(cand.SourceApp) == "" &&
		strings.TrimSpace(cand.Title) == "" &&
		strings.TrimSpace(cand.Body) == "" {
		return fmt.Errorf("%w: no source app, title or body", ErrMalformedCandidate)
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
