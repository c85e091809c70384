package domain

// Chat is the metadata record for a direct or group conversation as
// returned by the transport service. Members always includes the
// current user for any chat the user can observe, and AdminIDs is a
// subset of the member ids.
type Chat struct {
	ID                 string     `json:"_id"`
	IsGroup            bool       `json:"isGroupChat"`
	Name               string     `json:"chatName,omitempty"`
	Members            []Identity `json:"users"`
	AdminIDs           []string   `json:"groupAdmins,omitempty"`
	AllowMembersToAdd  bool       `json:"allowMembersToAdd"`
	AllowMembersToSend bool       `json:"allowMembersToSend"`
	CreatorID          string     `json:"creator,omitempty"`
}

// Member returns the member record for a user id, if present.
func (c Chat) Member(userID string) (Identity, bool) {
	for _, m := range c.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Identity{}, false
}

// IsAdmin reports whether the given user administers this chat.
func (c Chat) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
