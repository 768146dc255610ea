package domain

// Product is an offerable catalog item referenced by OFFER nodes.
type Product struct {
	ID          string
	OwnerID     string
	Name        string
	Description string
	Category    string
	Price       float64
	Active      bool
}

// ContactTag is a single tag applied to a phone number by ASSIGN_TAG nodes.
type ContactTag struct {
	Phone string
	Tag   string
}
