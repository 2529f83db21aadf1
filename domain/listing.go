package domain

import (
	"fmt"
	"time"
)

// Listing is a marketplace item offered by an actor.
type Listing struct {
	ApId         string
	AttributedTo string
	Category     string
	Title        string
	Description  string
	Location     *Location
	Attachments  []string
	Local        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Location struct {
	Name      string
	Latitude  float64
	Longitude float64
}

func (l *Listing) ToString() string {
	return fmt.Sprintf("\n\tApId: %s \n\tTitle: %s \n\tAttributedTo: %s \n\tCategory: %s \n\tCREATED_AT: %s)", l.ApId, l.Title, l.AttributedTo, l.Category, l.CreatedAt)
}
