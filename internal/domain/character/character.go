package character

type Location struct {
	Name string `json:"name"`
}

// Character is a read-only record sourced from the GraphQL API.
type Character struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Species  string   `json:"species"`
	Status   string   `json:"status"`
	Type     string   `json:"type"`
	Gender   string   `json:"gender"`
	Origin   Location `json:"origin"`
	Location Location `json:"location"`
	Image    string   `json:"image"`
}

// Key identifies the character among siblings in a rendered list.
func (c Character) Key() string {
	if c.ID != "" {
		return c.ID
	}
	return c.Name
}
