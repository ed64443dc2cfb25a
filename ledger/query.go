package ledger

import "time"

// BatchView is the read-only snapshot returned by GetBatch. CertHash is empty
// and CertifiedAt is the zero time when the batch is not certified.
type BatchView struct {
	ID          uint64    `json:"id"`
	Details     string    `json:"details"`
	Stage       string    `json:"stage"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	CertHash    string    `json:"cert_hash"`
	CertifiedAt time.Time `json:"certified_at"`
}

// Certified reports whether the view carries a certificate
func (v BatchView) Certified() bool {
	return !v.CertifiedAt.IsZero()
}

// GetBatch returns the snapshot of a batch
func (l *Ledger) GetBatch(id uint64) (BatchView, error) {
	const op = "getBatch"
	b, err := l.loadBatch(op, id)
	if err != nil {
		return BatchView{}, err
	}
	view := BatchView{
		ID:        b.ID,
		Details:   b.Details,
		Stage:     b.Stage.String(),
		Status:    b.Status,
		CreatedAt: b.CreatedAt,
	}
	cert, found, err := l.certificate(id)
	if err != nil {
		return BatchView{}, internalError(op, id, err)
	}
	if found {
		view.CertHash = cert.CertHash
		view.CertifiedAt = cert.IssuedAt
	}
	return view, nil
}
