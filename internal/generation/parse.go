package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/illegalcall/wingwoman/internal/models"
)

var (
	headingPattern      = regexp.MustCompile(`(?i)<span style="color:\s*#FF4F79">\s*<b>(.*?)</b>\s*</span>`)
	inlineBulletPattern = regexp.MustCompile(`([^\s])[ \t]+•`)
	bulletPattern       = regexp.MustCompile(`([^\n])\n•`)
)

// stripFences removes a markdown code fence a model may wrap JSON in. Only a
// leading fence line and a trailing fence are touched; backticks inside the
// payload survive.
func stripFences(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	if i := strings.IndexByte(clean, '\n'); i >= 0 {
		clean = clean[i+1:]
	} else {
		clean = strings.TrimPrefix(clean, "```")
		if len(clean) >= 4 && strings.EqualFold(clean[:4], "json") {
			clean = clean[4:]
		}
	}
	clean = strings.TrimSpace(clean)
	clean = strings.TrimSuffix(clean, "```")
	return strings.TrimSpace(clean)
}

// validateIcebreakerShape checks the response against the icebreaker schema
// without decoding it.
func validateIcebreakerShape(payload string) error {
	if !gjson.Valid(payload) {
		return fmt.Errorf("%w: invalid JSON", ErrMalformedResponse)
	}

	data := gjson.Parse(payload)
	if !data.IsObject() {
		return fmt.Errorf("%w: expected a JSON object", ErrMalformedResponse)
	}

	items := data.Get("icebreakers")
	if !items.IsArray() {
		return fmt.Errorf("%w: icebreakers must be an array", ErrMalformedResponse)
	}

	var shapeErr error
	items.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			shapeErr = fmt.Errorf("%w: icebreaker %d is not an object", ErrMalformedResponse, key.Int())
			return false
		}
		text := value.Get("message_text")
		if text.Type != gjson.String || strings.TrimSpace(text.String()) == "" {
			shapeErr = fmt.Errorf("%w: icebreaker %d has no message_text", ErrMalformedResponse, key.Int())
			return false
		}
		return true
	})
	if shapeErr != nil {
		return shapeErr
	}

	if pt := data.Get("pro_tip"); pt.Exists() && pt.Type != gjson.String {
		return fmt.Errorf("%w: pro_tip must be a string", ErrMalformedResponse)
	}
	return nil
}

// ParseIcebreakers decodes a model response into an IcebreakerSet. Fenced
// responses are accepted. Anything that does not match the schema is an
// error; a partial set is never returned.
func ParseIcebreakers(raw, interest string) (models.IcebreakerSet, error) {
	payload := stripFences(raw)
	if payload == "" {
		return models.IcebreakerSet{}, ErrEmptyResponse
	}
	if err := validateIcebreakerShape(payload); err != nil {
		return models.IcebreakerSet{}, err
	}

	var set models.IcebreakerSet
	if err := json.Unmarshal([]byte(payload), &set); err != nil {
		return models.IcebreakerSet{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	for i := range set.Icebreakers {
		ib := &set.Icebreakers[i]
		ib.MessageText = strings.TrimSpace(ib.MessageText)
		// the model's own count is unreliable
		ib.CharacterCount = utf8.RuneCountInString(ib.MessageText)
		if ib.InterestCategory == "" {
			ib.InterestCategory = interest
		}
		if ib.ID == "" {
			ib.ID = fmt.Sprintf("ib_%03d", i+1)
		}
		ib.Copyable = true
		ib.Saveable = true
	}

	return set, nil
}

// ToMarkdown rewrites the highlighted report headings as markdown headings and
// puts every bullet on its own paragraph line.
func ToMarkdown(report string) string {
	if report == "" {
		return ""
	}
	out := headingPattern.ReplaceAllString(report, "### $1")
	out = inlineBulletPattern.ReplaceAllString(out, "$1\n•")
	out = bulletPattern.ReplaceAllString(out, "$1\n\n•")
	return out
}
