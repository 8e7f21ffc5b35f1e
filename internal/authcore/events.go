package authcore

// Event subjects AuthCore emits on every state-changing operation, per
// spec.md §4.3.5. Payloads carry the affected entity's public view — never
// password hashes or TOTP secrets.
const (
	EventUserCreated        = "user.created"
	EventUserDeleted        = "user.deleted"
	EventAuthSuccess        = "auth.success"
	EventAuthFailure        = "auth.failure"
	EventAuthMFAEnabled     = "auth.mfa.enabled"
	EventAuthMFADisabled    = "auth.mfa.disabled"
	EventOrgCreated         = "org.created"
	EventPermissionGranted  = "permission.granted"
	EventPermissionRevoked  = "permission.revoked"
)

// publicUser is the password/secret-free view of a user published on the
// event bus.
type publicUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	MFAEnabled  bool   `json:"mfa_enabled"`
}
