package store

// TrustLevel is the per-KeyUser policy tier governing auto-approval.
type TrustLevel string

const (
	TrustParanoid   TrustLevel = "paranoid"
	TrustReasonable TrustLevel = "reasonable"
	TrustFull       TrustLevel = "full"
)

// ApprovalType records why a request was let through.
type ApprovalType string

const (
	ApprovalManual         ApprovalType = "manual"
	ApprovalAutoTrust      ApprovalType = "auto_trust"
	ApprovalAutoPermission ApprovalType = "auto_permission"
)

// KeyUser is the join of (key-name, remote-public-key) representing a
// client that has been introduced to a key.
type KeyUser struct {
	ID           int64      `db:"id"`
	KeyName      string     `db:"key_name"`
	PubKey       string     `db:"pubkey"`
	Description  string     `db:"description"`
	TrustLevel   TrustLevel `db:"trust_level"`
	CreatedAt    int64      `db:"created_at"`
	LastUsedAt   *int64     `db:"last_used_at"`
	RevokedAt    *int64     `db:"revoked_at"`
	SuspendedAt  *int64     `db:"suspended_at"`
	SuspendUntil *int64     `db:"suspend_until"`
}

// SigningCondition is an explicit ACL rule attached to a KeyUser.
// method="*" with allow=false is a full block; kind="all" matches any
// kind for sign_event.
type SigningCondition struct {
	ID        int64   `db:"id"`
	KeyUserID int64   `db:"key_user_id"`
	Method    string  `db:"method"`
	Kind      *string `db:"kind"`
	Allow     bool    `db:"allow"`
}

// Request is a record of one inbound NIP-46 call.
type Request struct {
	ID          string `db:"id"`
	KeyName     string `db:"key_name"`
	PubKey      string `db:"pubkey"`
	Method      string `db:"method"`
	Params      string `db:"params"`
	Allowed     *bool  `db:"allowed"`
	CreatedAt   int64  `db:"created_at"`
	ProcessedAt *int64 `db:"processed_at"`
}

// ConnectionToken is a one-shot secret bound to a key-name.
type ConnectionToken struct {
	ID         string `db:"id"`
	KeyName    string `db:"key_name"`
	PolicyID   *int64 `db:"policy_id"`
	CreatedAt  int64  `db:"created_at"`
	ExpiresAt  int64  `db:"expires_at"`
	RedeemedAt *int64 `db:"redeemed_at"`
}

// Policy is a preconfigured permission bundle a ConnectionToken can
// reference; its PolicyRules materialize as SigningConditions on
// redemption.
type Policy struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type PolicyRule struct {
	ID       int64   `db:"id"`
	PolicyID int64   `db:"policy_id"`
	Method   string  `db:"method"`
	Kind     *string `db:"kind"`
	Allow    bool    `db:"allow"`
}

// LogEntry is an audit record of approvals, denials, auto-approvals,
// and registrations.
type LogEntry struct {
	ID           int64        `db:"id"`
	Type         string       `db:"type"`
	Method       string       `db:"method"`
	Params       string       `db:"params"`
	KeyUserID    *int64       `db:"key_user_id"`
	ApprovalType ApprovalType `db:"approval_type"`
	CreatedAt    int64        `db:"created_at"`
}
