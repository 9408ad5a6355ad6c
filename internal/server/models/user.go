package models

import "time"

type User struct {
	ID           string
	Email        string
	UserName     string
	PasswordHash string
	Role         string
	IsActive     bool
	CreatedAt    time.Time
}
