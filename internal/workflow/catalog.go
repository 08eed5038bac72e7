package workflow

import (
	"strings"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/dom"
	"mailpilot/internal/locator"
)

// Catalog lists, per logical element, the selector candidates in priority
// order. Markers are probed without waiting; the engine bounds them itself.
type Catalog struct {
	Identifier     locator.Element
	IdentifierNext locator.Element
	Credential     locator.Element
	CredentialNext locator.Element
	Compose        locator.Element
	To             locator.Element
	Subject        locator.Element
	Body           locator.Element
	Send           locator.Element

	// LoginMarkers prove the authenticated UI is showing (with the inbox URL pattern).
	LoginMarkers  []dom.Candidate
	InboxMarkers  []dom.Candidate
	ComposeWindow []dom.Candidate
	SentMarkers   []dom.Candidate

	suggestionTimeout time.Duration
}

func xpaths(exprs ...string) []dom.Candidate {
	out := make([]dom.Candidate, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, dom.XPath(e))
	}
	return out
}

// DefaultCatalog returns the candidates known to work against the Gmail UI,
// each bounded by the matching timing.
func DefaultCatalog(t config.Timings) Catalog {
	field := func(name string, cands ...dom.Candidate) locator.Element {
		for i := range cands {
			cands[i] = cands[i].Within(t.FieldTimeout)
		}
		return locator.Named(name, cands...)
	}

	identifier := []dom.Candidate{
		dom.ID("identifierId"),
		dom.CSS("input[type='email']"),
		dom.XPath("//input[@name='identifier']"),
		dom.XPath("//input[@autocomplete='username']"),
	}
	for i := range identifier {
		identifier[i] = identifier[i].Within(t.IdentifierTimeout)
	}

	send := xpaths(
		"//div[@role='button' and contains(@class, 'T-I-atl')]",
		"//div[contains(@class, 'T-I') and contains(@class, 'J-J5-Ji') and contains(@class, 'aoO')]",
		"//div[contains(@class, 'T-I') and contains(@class, 'J-J5-Ji') and contains(@class, 'T-I-atl')]",
		"//div[@role='button' and contains(@data-tooltip, 'Send')]",
		"//div[@role='button' and contains(@aria-label, 'Send')]",
		"//div[@role='button' and contains(text(), 'Send')]",
		"//div[contains(@class, 'dC') and @role='button']",
		"//div[contains(@class, 'T-I') and contains(@class, 'J-J5-Ji')]",
		"//button[contains(text(), 'Send')]",
		"//input[@type='submit' and @value='Send']",
	)
	for i := range send {
		send[i] = send[i].Within(t.SendButtonTimeout)
	}

	return Catalog{
		Identifier: locator.Named("identifier field", identifier...),
		IdentifierNext: field("identifier next button",
			dom.ID("identifierNext"),
			dom.XPath("//div[@id='identifierNext']//button"),
		),
		Credential: field("password field", xpaths(
			"//input[@name='password']",
			"//input[@type='password']",
			"//input[@aria-label='Enter your password']",
			"//input[contains(@aria-describedby, 'password')]",
			"//div[@id='password']//input",
			"//input[@autocomplete='current-password']",
			"//input[@name='Passwd']",
		)...),
		CredentialNext: field("password next button",
			dom.ID("passwordNext"),
			dom.XPath("//div[@id='passwordNext']//button"),
		),
		Compose: field("compose button", xpaths(
			"//div[contains(@class, 'T-I') and contains(@class, 'T-I-KE') and contains(@class, 'L3')]",
			"//div[@role='button' and contains(text(), 'Compose')]",
			"//div[contains(@class, 'z0') and contains(text(), 'Compose')]",
			"//div[contains(@class, 'aic') and contains(text(), 'Compose')]",
			"//div[text()='Compose']",
			"//button[contains(@aria-label, 'Compose')]",
		)...),
		To: field("to field", xpaths(
			"//textarea[@name='to']",
			"//input[@name='to']",
			"//textarea[contains(@aria-label, 'To')]",
			"//input[contains(@aria-label, 'To')]",
			"//div[@aria-label='To']//textarea",
			"//div[@aria-label='To']//input",
		)...),
		Subject: field("subject field", xpaths(
			"//input[@name='subjectbox']",
			"//input[contains(@aria-label, 'Subject')]",
			"//input[@placeholder='Subject']",
			"//div[contains(@aria-label, 'Subject')]//input",
		)...),
		Body: field("message body", xpaths(
			"//div[@aria-label='Message Body']",
			"//div[contains(@aria-label, 'Message body')]",
			"//div[@role='textbox']",
			"//div[contains(@class, 'Am') and @role='textbox']",
			"//div[contains(@class, 'editable')]",
		)...),
		Send: locator.Named("send button", send...),

		LoginMarkers: xpaths(
			"//div[text()='Compose']",
			"//div[@role='main']",
		),
		InboxMarkers:  xpaths("//div[@role='main']"),
		ComposeWindow: xpaths("//div[contains(@class, 'AD')]"),
		SentMarkers: xpaths(
			"//span[contains(text(), 'Message sent')]",
			"//div[contains(text(), 'sent')]",
		),

		suggestionTimeout: t.SuggestionTimeout,
	}
}

// Suggestions lists autocomplete entries for addr, most specific first.
func (c Catalog) Suggestions(addr string) locator.Element {
	lit := xpathLiteral(addr)
	cands := xpaths(
		"//div[contains(@class, 'Sa') and contains(text(), "+lit+")]",
		"//div[contains(@class, 'Jd') and contains(text(), "+lit+")]",
		"//div[contains(@role, 'option') and contains(text(), "+lit+")]",
		"//span[contains(text(), "+lit+")]",
		"//div[contains(@class, 'Sa')]",
		"//div[contains(@class, 'Jd')]",
		"//div[@role='option']",
	)
	for i := range cands {
		cands[i] = cands[i].Within(c.suggestionTimeout)
	}
	return locator.Named("recipient suggestion", cands...)
}

// Chips lists the patterns of an accepted recipient chip for addr.
func (c Catalog) Chips(addr string) []dom.Candidate {
	lit := xpathLiteral(addr)
	return xpaths(
		"//span[contains(@class, 'aZo') and contains(@email, "+lit+")]",
		"//span[contains(@class, 'go') and contains(@email, "+lit+")]",
		"//div[contains(@class, 'vR')]//span[contains(@email, "+lit+")]",
		"//span[contains(@title, "+lit+")]",
	)
}

// xpathLiteral quotes s for use inside an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}
