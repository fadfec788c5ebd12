package model

// UserProfile is what the digest needs to know about a recipient.
type UserProfile struct {
	ID       string  `json:"id"`
	Display  string  `json:"display"`
	Email    string  `json:"email"`
	Language string  `json:"language"`
	Data     JSONMap `json:"userData,omitempty"`
}
