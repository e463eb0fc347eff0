package user

import "time"

// User is an account holder.
type User struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}
