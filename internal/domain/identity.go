package domain

// Identity is the public half of a user as other members see it. The
// armored public key is required to encrypt to this user and to verify
// signatures on messages claiming to come from them.
type Identity struct {
	UserID      string `json:"_id"`
	DisplayName string `json:"name"`
	Role        string `json:"role,omitempty"`
	AvatarRef   string `json:"avatar,omitempty"`
	PublicKey   string `json:"publicKey"`
}

// HasKey reports whether the identity carries a usable public key.
func (i Identity) HasKey() bool {
	return i.PublicKey != ""
}
