package normalize

import (
	"encoding/json"
	"strings"
)

type contact struct {
	fn, org, email, tel, adr string
}

// parseVCard reads a jCard (RFC 7095) ["vcard", [[name, params, type, value...], ...]].
// Unknown or malformed properties are skipped. The first value of each
// property wins.
func parseVCard(raw json.RawMessage) contact {
	var c contact
	if len(raw) == 0 {
		return c
	}
	var card []json.RawMessage
	if err := json.Unmarshal(raw, &card); err != nil || len(card) < 2 {
		return c
	}
	var props [][]json.RawMessage
	if err := json.Unmarshal(card[1], &props); err != nil {
		return c
	}

	for _, p := range props {
		if len(p) < 4 {
			continue
		}
		var name string
		if json.Unmarshal(p[0], &name) != nil {
			continue
		}
		switch strings.ToLower(name) {
		case "fn":
			setOnce(&c.fn, flatten(p[3:]))
		case "org":
			setOnce(&c.org, flatten(p[3:]))
		case "email":
			setOnce(&c.email, flatten(p[3:]))
		case "tel":
			setOnce(&c.tel, strings.TrimPrefix(flatten(p[3:]), "tel:"))
		case "adr":
			var params struct {
				Label string `json:"label"`
			}
			_ = json.Unmarshal(p[1], &params)
			if len(params.Label) > 0 {
				setOnce(&c.adr, strings.ReplaceAll(params.Label, "\n", ", "))
				continue
			}
			setOnce(&c.adr, flatten(p[3:]))
		}
	}
	return c
}

func setOnce(p *string, v string) {
	if len(*p) == 0 {
		*p = v
	}
}

// flatten joins all non-empty strings found in vs, depth first.
func flatten(vs []json.RawMessage) string {
	var parts []string
	var walk func(raw json.RawMessage)
	walk = func(raw json.RawMessage) {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if s = strings.TrimSpace(s); len(s) > 0 {
				parts = append(parts, s)
			}
			return
		}
		var arr []json.RawMessage
		if json.Unmarshal(raw, &arr) == nil {
			for _, v := range arr {
				walk(v)
			}
		}
	}
	for _, v := range vs {
		walk(v)
	}
	return strings.Join(parts, ", ")
}
