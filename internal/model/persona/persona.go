package persona

// DefaultID is the profile used when a session does not name one.
const DefaultID = "claudio"

// Persona captures the assistant identity exposed to the frontend.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Greeting    string `json:"greeting"`
	Intro       string `json:"intro"`
	Placeholder string `json:"placeholder"`
	Disclaimer  string `json:"disclaimer"`
}

// Seed provides the built-in assistant profile.
func Seed() []Persona {
	return []Persona{
		{
			ID:          DefaultID,
			Name:        "Claudio",
			Title:       "AI assistant",
			Greeting:    "Hello! I'm Claudio",
			Intro:       "I'm an AI assistant ready to help you. How can I assist you today?",
			Placeholder: "Message Claudio...",
			Disclaimer:  "Claudio can make mistakes. Please double-check responses.",
		},
	}
}
