package models

import "time"

type User struct {
	ID              string    `json:"id" bson:"_id"`
	Username        string    `json:"username" bson:"username"`
	Email           string    `json:"email" bson:"email"`
	Phone           string    `json:"phone" bson:"phone"`
	PasswordHash    string    `json:"-" bson:"password_hash"`
	ProfilePicture  string    `json:"profilePicture" bson:"profile_picture"`
	IsEmailVerified bool      `json:"isEmailVerified" bson:"is_email_verified"`
	IsPhoneVerified bool      `json:"isPhoneVerified" bson:"is_phone_verified"`
	Friends         []string  `json:"friends" bson:"friends"`
	DeviceTokens    []string  `json:"-" bson:"device_tokens"`
	Settings        Settings  `json:"settings" bson:"settings"`
	IsInHouse       bool      `json:"isInHouse" bson:"is_in_house"`
	LastActive      time.Time `json:"lastActive" bson:"last_active"`
	CreatedAt       time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt       time.Time `json:"updatedAt" bson:"updated_at"`
}

// PublicUser is what the API hands out about an account. It never carries
// the password hash or device tokens.
type PublicUser struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone"`
	ProfilePicture  string    `json:"profilePicture"`
	IsEmailVerified bool      `json:"isEmailVerified"`
	IsPhoneVerified bool      `json:"isPhoneVerified"`
	Friends         []string  `json:"friends"`
	Settings        Settings  `json:"settings"`
	IsInHouse       bool      `json:"isInHouse"`
	LastActive      time.Time `json:"lastActive"`
	CreatedAt       time.Time `json:"createdAt"`
}

// FriendSummary is the trimmed projection used in friend lists and search results.
type FriendSummary struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	ProfilePicture string    `json:"profilePicture"`
	IsInHouse      bool      `json:"isInHouse"`
	LastActive     time.Time `json:"lastActive"`
}

func (u *User) Public() PublicUser {
	friends := u.Friends
	if friends == nil {
		friends = []string{}
	}
	return PublicUser{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		Phone:           u.Phone,
		ProfilePicture:  u.ProfilePicture,
		IsEmailVerified: u.IsEmailVerified,
		IsPhoneVerified: u.IsPhoneVerified,
		Friends:         friends,
		Settings:        u.Settings,
		IsInHouse:       u.IsInHouse,
		LastActive:      u.LastActive,
		CreatedAt:       u.CreatedAt,
	}
}

func (u *User) Summary() FriendSummary {
	return FriendSummary{
		ID:             u.ID,
		Username:       u.Username,
		ProfilePicture: u.ProfilePicture,
		IsInHouse:      u.IsInHouse,
		LastActive:     u.LastActive,
	}
}

func (u *User) HasFriend(id string) bool {
	return contains(u.Friends, id)
}

func (u *User) HasDeviceToken(token string) bool {
	return contains(u.DeviceTokens, token)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
