package chat

// DefaultWindow is the number of prior turns sent to the model as context.
const DefaultWindow = 15

// Conversation is an append-only, insertion-ordered list of turns.
// It is not safe for concurrent use; callers guard it.
type Conversation struct {
	turns []Turn
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{turns: make([]Turn, 0, 16)}
}

// Append adds turn to the end of the conversation.
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of every turn in order.
func (c *Conversation) Turns() []Turn {
	copied := make([]Turn, len(c.turns))
	copy(copied, c.turns)
	return copied
}

// Window returns the trailing k turns.
func (c *Conversation) Window(k int) []Turn {
	return Windowed(c.turns, k)
}

// Reset drops every turn.
func (c *Conversation) Reset() {
	c.turns = make([]Turn, 0, 16)
}

// Windowed returns a copy of the last k turns in their original order.
// Fewer than k turns are returned unchanged; k <= 0 yields none.
func Windowed(turns []Turn, k int) []Turn {
	if k <= 0 || len(turns) == 0 {
		return []Turn{}
	}

	start := 0
	if len(turns) > k {
		start = len(turns) - k
	}

	window := make([]Turn, len(turns)-start)
	copy(window, turns[start:])
	return window
}
