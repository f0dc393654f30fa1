package remote

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raaihank/pii-redactor/internal/privacy"
)

const defaultRemoteConfidence = 0.8

// parseEntities finds the first well-formed JSON object carrying an
// "entities" list anywhere in the model output.
func parseEntities(response string) ([]rawEntity, error) {
	for i := strings.IndexByte(response, '{'); i >= 0; {
		var payload struct {
			Entities json.RawMessage `json:"entities"`
		}
		dec := json.NewDecoder(strings.NewReader(response[i:]))
		if err := dec.Decode(&payload); err == nil && len(payload.Entities) > 0 {
			var ents []rawEntity
			if err := json.Unmarshal(payload.Entities, &ents); err == nil {
				return ents, nil
			}
		}

		next := strings.IndexByte(response[i+1:], '{')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, fmt.Errorf("no entities object in model output")
}

// kindFor maps a model type label to a kind and optional token override.
func kindFor(label string) (privacy.Kind, privacy.Token, bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	switch label {
	case "EMPLOYEE", "STAFF":
		return privacy.KindPerson, privacy.TokenStaffName, true
	case "NAME":
		return privacy.KindPerson, "", true
	case "PHONE_NUMBER", "CONTACT":
		return privacy.KindPhone, "", true
	case "EMAIL_ADDRESS":
		return privacy.KindEmail, "", true
	}
	k, ok := privacy.ParseKind(label)
	return k, "", ok
}

// toEntities validates model output against the source text.
func toEntities(raw []rawEntity, text string, guard Guard) []privacy.Entity {
	seen := map[string]bool{}
	var out []privacy.Entity
	for _, r := range raw {
		t := strings.TrimSpace(r.Text)
		if t == "" || seen[t] {
			continue
		}
		kind, token, ok := kindFor(r.Type)
		if !ok {
			continue
		}
		if !strings.Contains(text, t) || strings.ContainsFunc(t, isPlaceholder) {
			continue
		}
		if guard != nil && guard.IsProtected(t) {
			continue
		}

		conf := defaultRemoteConfidence
		if r.Confidence != nil {
			conf = *r.Confidence
		}
		seen[t] = true
		out = append(out, privacy.Entity{
			Kind:       kind,
			Text:       t,
			Start:      -1,
			End:        -1,
			Confidence: conf,
			Source:     privacy.SourceRemote,
			Token:      token,
		})
	}
	return out
}
