package schema

const (
	// recovery journal, key: commitment hash, value: json PendingCommitment
	PendingCommitmentBucket = "pending-commitment-bucket"
)
