package domain

// Receipt is a rendered submission confirmation.
type Receipt struct {
	Filename    string
	ContentType string
	Data        []byte
	// Token is the signed verification code printed on the receipt.
	Token string
	// Degraded lists attachments that were rendered as links because embedding failed.
	Degraded []string
}
