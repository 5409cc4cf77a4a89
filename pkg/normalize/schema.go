package normalize

import "encoding/json"

// RDAP wire objects (RFC 9083). Only the members that end up in the
// canonical model are decoded.

type object struct {
	ObjectClassName string   `json:"objectClassName"`
	Handle          string   `json:"handle"`
	Status          []string `json:"status"`
	Events          []event  `json:"events"`
	Entities        []entity `json:"entities"`
	Port43          string   `json:"port43"`
}

type event struct {
	Action string `json:"eventAction"`
	Actor  string `json:"eventActor"`
	Date   string `json:"eventDate"`
}

type entity struct {
	Handle   string          `json:"handle"`
	Roles    []string        `json:"roles"`
	VCard    json.RawMessage `json:"vcardArray"`
	Entities []entity        `json:"entities"`
}

type domain struct {
	object
	LDHName     string `json:"ldhName"`
	UnicodeName string `json:"unicodeName"`
	Nameservers []struct {
		LDHName string `json:"ldhName"`
	} `json:"nameservers"`
	SecureDNS *struct {
		DelegationSigned bool `json:"delegationSigned"`
	} `json:"secureDNS"`
}

type ipNetwork struct {
	object
	StartAddress string `json:"startAddress"`
	EndAddress   string `json:"endAddress"`
	IPVersion    string `json:"ipVersion"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Country      string `json:"country"`
	ParentHandle string `json:"parentHandle"`
	CIDRs        []struct {
		V4Prefix string `json:"v4prefix"`
		V6Prefix string `json:"v6prefix"`
		Length   int    `json:"length"`
	} `json:"cidr0_cidrs"`
}

type autnum struct {
	object
	StartAutnum *uint32 `json:"startAutnum"`
	EndAutnum   *uint32 `json:"endAutnum"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Country     string  `json:"country"`
}
