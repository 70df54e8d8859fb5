package domain

// RenderContext is everything a template can reference for one recipient.
// It is loaded at job time, not at enqueue time.
type RenderContext struct {
	Lead         Lead              `json:"lead"`
	Contact      Contact           `json:"contact"`
	Organization string            `json:"organization"`
	OwnerName    string            `json:"owner_name"`
	OwnerEmail   string            `json:"owner_email"`
	Deal         *Deal             `json:"deal,omitempty"`
	CustomFields map[string]string `json:"custom_fields,omitempty"`
}

// Lead is the CRM record an audience member belongs to.
type Lead struct {
	ID             string `json:"id" db:"id"`
	OrganizationID string `json:"organization_id" db:"organization_id"`
	Name           string `json:"name" db:"name"`
}

// Contact is the person behind a lead.
type Contact struct {
	ID        string `json:"id" db:"id"`
	FirstName string `json:"first_name" db:"first_name"`
	LastName  string `json:"last_name" db:"last_name"`
	Email     string `json:"email" db:"email"`
}

// FullName joins first and last name, skipping empty parts.
func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Deal is the lead's most recent open deal, if any.
type Deal struct {
	Title string  `json:"title" db:"title"`
	Value float64 `json:"value" db:"value"`
	Stage string  `json:"stage" db:"stage"`
}
