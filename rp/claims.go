package rp

import (
	"encoding/json"
	"time"
)

// Subject is the provider's stable identifier for an end user.  Once linked
// it is the sole cross-reference between the provider identity and the local
// account.
type Subject string

// IDTokenClaims are the claims decoded from a verified id_token.  Fields
// this core reads are typed; everything else lands in Extra, which is stored
// but never interpreted.
type IDTokenClaims struct {
	Issuer   string
	Subject  Subject
	Audience []string
	Expiry   time.Time
	Nonce    string
	Extra    map[string]interface{}
}

// UnmarshalJSON decodes the registered claims into typed fields and keeps
// the remainder in Extra.  The "aud" claim may be a string or an array per
// the oidc spec.
func (c *IDTokenClaims) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := IDTokenClaims{Extra: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case "iss":
			out.Issuer, _ = v.(string)
		case "sub":
			s, _ := v.(string)
			out.Subject = Subject(s)
		case "aud":
			out.Audience = audienceList(v)
		case "exp":
			if f, ok := v.(float64); ok {
				out.Expiry = time.Unix(int64(f), 0).UTC()
			}
		case "nonce":
			out.Nonce, _ = v.(string)
		default:
			out.Extra[k] = v
		}
	}
	*c = out
	return nil
}

// MarshalJSON re-assembles the original claim document from the typed fields
// and Extra, so a persisted snapshot round-trips.
func (c IDTokenClaims) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, len(c.Extra)+5)
	for k, v := range c.Extra {
		raw[k] = v
	}
	if c.Issuer != "" {
		raw["iss"] = c.Issuer
	}
	if c.Subject != "" {
		raw["sub"] = string(c.Subject)
	}
	if len(c.Audience) > 0 {
		raw["aud"] = c.Audience
	}
	if !c.Expiry.IsZero() {
		raw["exp"] = c.Expiry.Unix()
	}
	if c.Nonce != "" {
		raw["nonce"] = c.Nonce
	}
	return json.Marshal(raw)
}

// UserClaims are the claims describing the end user, decoded from the
// id_token or the userinfo endpoint.  They drive identity resolution and
// username derivation.
type UserClaims struct {
	Subject           Subject
	Email             string
	PreferredUsername string
	Name              string
	Extra             map[string]interface{}
}

// UnmarshalJSON decodes the claims this core reads into typed fields and
// keeps the remainder in Extra.
func (c *UserClaims) UnmarshalJSON(b []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := UserClaims{Extra: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case "sub":
			s, _ := v.(string)
			out.Subject = Subject(s)
		case "email":
			out.Email, _ = v.(string)
		case "preferred_username":
			out.PreferredUsername, _ = v.(string)
		case "name":
			out.Name, _ = v.(string)
		default:
			out.Extra[k] = v
		}
	}
	*c = out
	return nil
}

// MarshalJSON re-assembles the original claim document from the typed fields
// and Extra.
func (c UserClaims) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, len(c.Extra)+4)
	for k, v := range c.Extra {
		raw[k] = v
	}
	if c.Subject != "" {
		raw["sub"] = string(c.Subject)
	}
	if c.Email != "" {
		raw["email"] = c.Email
	}
	if c.PreferredUsername != "" {
		raw["preferred_username"] = c.PreferredUsername
	}
	if c.Name != "" {
		raw["name"] = c.Name
	}
	return json.Marshal(raw)
}

// StringClaim returns the named claim as a string, looking at the typed
// fields first and then at Extra.  Username derivation uses it to honor a
// host-configured identity claim field.
func (c *UserClaims) StringClaim(name string) (string, bool) {
	switch name {
	case "sub":
		if c.Subject != "" {
			return string(c.Subject), true
		}
	case "email":
		if c.Email != "" {
			return c.Email, true
		}
	case "preferred_username":
		if c.PreferredUsername != "" {
			return c.PreferredUsername, true
		}
	case "name":
		if c.Name != "" {
			return c.Name, true
		}
	default:
		if s, ok := c.Extra[name].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func audienceList(v interface{}) []string {
	switch a := v.(type) {
	case string:
		return []string{a}
	case []interface{}:
		out := make([]string, 0, len(a))
		for _, e := range a {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return a
	}
	return nil
}
