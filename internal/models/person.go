package models

import "time"

// Person is anyone the local system knows by student number.
type Person struct {
	ID        string    `db:"id" json:"id"`
	EmplID    string    `db:"emplid" json:"emplid"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
