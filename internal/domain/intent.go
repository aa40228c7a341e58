package domain

// Action is what a user did to a tree node
type Action string

const (
	ActionToggle Action = "toggle"
)

// Intent decouples a UI event from the node it targets
type Intent struct {
	NodeID int    `json:"node_id"`
	Action Action `json:"action"`
}
