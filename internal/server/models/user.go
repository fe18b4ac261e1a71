package models

import "time"

// User is a directory entry. Email is stored lowercased and is unique.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}
