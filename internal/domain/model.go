package domain

// AIModel is an entry of the completion provider's model listing.
type AIModel struct {
	ID            string
	OwnedBy       string
	ContextWindow int
	Active        bool
}
