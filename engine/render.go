package engine

import (
	stdhtml "html"
	"regexp"
	"strings"

	"cadencer/models"
)

var tokenPattern = regexp.MustCompile(`\{[a-zA-Z0-9_]+\}`)

// RenderVariables substitutes {first_name}, {last_name}, {company} and
// {email} tokens from the lead's standard fields, then every custom-field
// key, all case-insensitively. Unmatched tokens are left verbatim so a
// typo'd token degrades gracefully instead of failing the whole step.
func RenderVariables(text string, lead *models.Lead) string {
	values := map[string]string{
		"first_name": lead.FirstName,
		"last_name":  lead.LastName,
		"company":    lead.Company,
		"email":      lead.Email,
	}
	for _, field := range lead.CustomFields {
		values[strings.ToLower(field.Name)] = field.Value
	}

	return tokenPattern.ReplaceAllStringFunc(text, func(token string) string {
		key := strings.ToLower(token[1 : len(token)-1])
		if value, ok := values[key]; ok {
			return value
		}
		return token
	})
}

var (
	breakPattern    = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEndPattern = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|table)>`)
	tagPattern      = regexp.MustCompile(`<[^>]*>`)
	blankPattern    = regexp.MustCompile(`\n{3,}`)
)

// HTMLToText derives the plain-text fallback for an email body. This is a
// simplified conversion, not a full HTML parser; the bodies it handles are
// the ones our own step editor produces.
func HTMLToText(content string) string {
	text := breakPattern.ReplaceAllString(content, "\n")
	text = blockEndPattern.ReplaceAllString(text, "\n")
	text = tagPattern.ReplaceAllString(text, "")
	text = stdhtml.UnescapeString(text)
	text = blankPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
