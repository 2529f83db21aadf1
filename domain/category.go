package domain

import (
	"fmt"
	"time"
)

// Category is a node in the marketplace taxonomy. SubCategories is a
// snapshot of the origin hierarchy taken when the entry was filled.
type Category struct {
	ApId          string
	Name          string
	ImageURL      string
	ParentId      string
	SubCategories []SubCategory
	Local         bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type SubCategory struct {
	ApId string
	Name string
}

func (c *Category) ToString() string {
	return fmt.Sprintf("\n\tApId: %s \n\tName: %s \n\tSubCategories: %d \n\tLocal: %t)", c.ApId, c.Name, len(c.SubCategories), c.Local)
}
