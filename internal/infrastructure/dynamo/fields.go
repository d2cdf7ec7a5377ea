package dynamo

// DynamoDB attribute names used in key, filter and update expressions.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldIdentity    = "identity"
	fieldRecordID    = "record_id"
	fieldCode        = "code"
	fieldCreatedAt   = "created_at"
	fieldExpiresAtMs = "expires_at_ms"
	fieldUsed        = "used"
	fieldVerifiedAt  = "verified_at"
	fieldTTL         = "ttl"

	fieldVerified  = "verified"
	fieldMethod    = "method"
	fieldUpdatedAt = "updated_at"
)
