// Package redact removes personal contact data from canonical responses.
package redact

import "github.com/pmkol/rdapx/pkg/rdap"

const Placeholder = "REDACTED"

type Redactor struct {
	enabled bool
}

func New(enabled bool) *Redactor {
	return &Redactor{enabled: enabled}
}

func (r *Redactor) Enabled() bool {
	return r.enabled
}

// Redact returns a copy of resp with the name, email, phone and address of
// every entity replaced. Empty fields stay empty. resp is never modified.
// A disabled Redactor returns resp as is.
func (r *Redactor) Redact(resp rdap.Response) rdap.Response {
	if !r.enabled || resp == nil {
		return resp
	}
	es := rdap.CloneEntities(rdap.EntitiesOf(resp))
	redactEntities(es)
	return rdap.WithEntities(resp, es)
}

func redactEntities(es []rdap.Entity) {
	for i := range es {
		e := &es[i]
		mask(&e.Name)
		mask(&e.Email)
		mask(&e.Phone)
		mask(&e.Address)
		redactEntities(e.Entities)
	}
}

func mask(s *string) {
	if len(*s) > 0 {
		*s = Placeholder
	}
}
