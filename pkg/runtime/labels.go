package runtime

// Labels stamped on every engine-created container and volume.
const (
	LabelProjectID   = "agentdb9.project-id"
	LabelManaged     = "agentdb9.managed"
	LabelWorkspaceID = "agentdb9.workspace-id"

	ManagedValue = "true"
)

// ManagedLabels returns the label set for a resource owned by projectID.
func ManagedLabels(projectID string) map[string]string {
	return map[string]string{
		LabelProjectID: projectID,
		LabelManaged:   ManagedValue,
	}
}

// WorkspaceLabels returns the label set for a workspace container.
func WorkspaceLabels(workspaceID, projectID string) map[string]string {
	l := ManagedLabels(projectID)
	l[LabelWorkspaceID] = workspaceID
	return l
}

// ManagedSelector selects every managed resource.
func ManagedSelector() map[string]string {
	return map[string]string{LabelManaged: ManagedValue}
}

// IsManaged reports whether labels carry the managed marker.
func IsManaged(labels map[string]string) bool {
	return labels[LabelManaged] == ManagedValue
}

func matchLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
