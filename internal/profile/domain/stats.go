package domain

// Stats summarises verification across all profiles.
type Stats struct {
	TotalUsers       int64   `json:"totalUsers"`
	VerifiedUsers    int64   `json:"verifiedUsers"`
	UnverifiedUsers  int64   `json:"unverifiedUsers"`
	VerificationRate float64 `json:"verificationRate"`
}

// NewStats derives the unverified count and rate (percent) from total and verified.
func NewStats(total, verified int64) Stats {
	s := Stats{TotalUsers: total, VerifiedUsers: verified, UnverifiedUsers: total - verified}
	if total > 0 {
		s.VerificationRate = float64(verified) * 100 / float64(total)
	}
	return s
}
