package core

type (
	// Identity is an already authenticated viewer.
	Identity struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	}
)

// Label is what other users see: the display name, or the id if none is set.
func (i Identity) Label() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.ID
}
