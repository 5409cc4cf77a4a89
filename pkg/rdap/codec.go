package rdap

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type QueryType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Codec encodes responses for byte oriented cache backends. The variant tag
// is stored next to the payload so decoding restores the concrete type.
type Codec struct{}

func (Codec) Encode(r Response) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: r.Type(), Data: data})
}

func (Codec) Decode(b []byte) (Response, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	var r Response
	switch e.Type {
	case TypeDomain:
		r = new(Domain)
	case TypeIP:
		r = new(IPNetwork)
	case TypeASN:
		r = new(Autnum)
	default:
		return nil, fmt.Errorf("unknown response type %q", e.Type)
	}
	if err := json.Unmarshal(e.Data, r); err != nil {
		return nil, err
	}
	return r, nil
}
