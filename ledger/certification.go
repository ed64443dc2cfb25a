package ledger

import "time"

// Certificate is the halal attestation attached to a batch
type Certificate struct {
	BatchID  uint64    `json:"batch_id"`
	CertHash string    `json:"cert_hash"`
	IssuedAt time.Time `json:"issued_at"`
}

// CertifyHalal stores the certificate of a batch. A batch is certified at
// most once, at any stage.
func (l *Ledger) CertifyHalal(caller Principal, id uint64, certHash string, now time.Time) (Certificate, Event, error) {
	const op = "certifyHalal"
	if err := l.requireRole(op, caller, RoleCertificationAuthority); err != nil {
		return Certificate{}, Event{}, err
	}
	if certHash == "" {
		return Certificate{}, Event{}, newError(CodeInvalidRequest, op, id, "cert_hash is required")
	}
	if _, err := l.loadBatch(op, id); err != nil {
		return Certificate{}, Event{}, err
	}
	_, exists, err := l.certificate(id)
	if err != nil {
		return Certificate{}, Event{}, internalError(op, id, err)
	}
	if exists {
		return Certificate{}, Event{}, newError(CodeAlreadyCertified, op, id, "batch is already certified")
	}
	cert := Certificate{
		BatchID:  id,
		CertHash: certHash,
		IssuedAt: now.UTC(),
	}
	if err := setJSON(l.store, certKey(id), cert); err != nil {
		return Certificate{}, Event{}, internalError(op, id, err)
	}
	return cert, Event{
		Type:      EventHalalCertified,
		BatchID:   id,
		CertHash:  certHash,
		Timestamp: cert.IssuedAt,
	}, nil
}

func (l *Ledger) certificate(id uint64) (Certificate, bool, error) {
	var cert Certificate
	found, err := getJSON(l.store, certKey(id), &cert)
	return cert, found, err
}
