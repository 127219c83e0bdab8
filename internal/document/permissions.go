package document

// Capability is a single action a user may be granted on a document.
type Capability string

const (
	CapabilityView    Capability = "view"
	CapabilityEdit    Capability = "edit"
	CapabilityComment Capability = "comment"
	CapabilityApprove Capability = "approve"
)

// HasCapability is the single permission check for documents.
//
// The creator and collaborators may edit and comment. Approval is never
// implicit: it requires an explicit canApprove grant, even for the creator.
// Anyone with a role or grant on the document may view it.
func HasCapability(d *Document, userID string, c Capability) bool {
	if d == nil || userID == "" {
		return false
	}
	member := d.CreatorID == userID || contains(d.Collaborators, userID)
	switch c {
	case CapabilityEdit:
		return member || contains(d.Permissions.CanEdit, userID)
	case CapabilityComment:
		return member || contains(d.Permissions.CanComment, userID)
	case CapabilityApprove:
		return contains(d.Permissions.CanApprove, userID)
	case CapabilityView:
		return member ||
			contains(d.Permissions.CanEdit, userID) ||
			contains(d.Permissions.CanComment, userID) ||
			contains(d.Permissions.CanApprove, userID)
	}
	return false
}

// Grant is an additive change to a document's access lists.
type Grant struct {
	Collaborators []string `json:"collaborators"`
	CanEdit       []string `json:"canEdit"`
	CanComment    []string `json:"canComment"`
	CanApprove    []string `json:"canApprove"`
}

// Apply merges g into d without removing any existing entry.
func (g Grant) Apply(d *Document) {
	d.Collaborators = union(d.Collaborators, g.Collaborators)
	d.Permissions.CanEdit = union(d.Permissions.CanEdit, g.CanEdit)
	d.Permissions.CanComment = union(d.Permissions.CanComment, g.CanComment)
	d.Permissions.CanApprove = union(d.Permissions.CanApprove, g.CanApprove)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func union(a, b []string) []string {
	out := append([]string(nil), a...)
	for _, v := range b {
		if v != "" && !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
