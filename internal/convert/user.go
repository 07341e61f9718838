package convert

import (
	"time"

	"github.com/matheus3301/ventchat/internal/cache"
	"github.com/matheus3301/ventchat/internal/remote"
)

// UserDoc is the remote shape of a user profile.
type UserDoc struct {
	ID              string `validate:"required"`
	Username        string
	Gender          string `validate:"omitempty,oneof=male female other"`
	Avatar          string
	Rating          float64 `validate:"gte=0"`
	Verified        bool
	Status          string `validate:"omitempty,oneof=online offline"`
	LastSeen        *time.Time
	ConnectionCount int `validate:"gte=0"`
}

// DecodeUser reads a user document without validating it.
func DecodeUser(doc remote.Document) UserDoc {
	f := fields(doc.Data)
	return UserDoc{
		ID:              doc.ID,
		Username:        f.str("username"),
		Gender:          f.str("gender"),
		Avatar:          f.str("avatar"),
		Rating:          f.float("rating"),
		Verified:        f.boolean("verified"),
		Status:          f.str("status"),
		LastSeen:        f.optInstant("lastSeen"),
		ConnectionCount: f.integer("connectionCount"),
	}
}

// User validates a user document and maps it to a synced cache entry.
func User(doc remote.Document) (cache.User, error) {
	d := DecodeUser(doc)
	if err := check("user", doc.ID, d); err != nil {
		return cache.User{}, err
	}
	return cache.User{
		ID:              d.ID,
		Username:        or(d.Username, DefaultUsername),
		Gender:          cache.Gender(or(d.Gender, string(cache.GenderOther))),
		Avatar:          or(d.Avatar, DefaultAvatar),
		Rating:          d.Rating,
		Verified:        d.Verified,
		Status:          cache.Presence(or(d.Status, string(cache.Offline))),
		LastSeen:        d.LastSeen,
		ConnectionCount: d.ConnectionCount,
		Synced:          true,
	}, nil
}

// Placeholder returns the profile shown for a user whose document could not
// be fetched.
func Placeholder(id string) cache.User {
	return cache.User{
		ID:       id,
		Username: DefaultUsername,
		Gender:   cache.GenderOther,
		Avatar:   DefaultAvatar,
		Status:   cache.Offline,
	}
}

// UserData builds the payload for a user document.
func UserData(u cache.User) map[string]any {
	data := map[string]any{
		"username":        u.Username,
		"gender":          string(u.Gender),
		"avatar":          u.Avatar,
		"rating":          u.Rating,
		"verified":        u.Verified,
		"status":          string(u.Status),
		"connectionCount": u.ConnectionCount,
	}
	if u.LastSeen != nil {
		data["lastSeen"] = u.LastSeen.UTC()
	}
	return data
}
