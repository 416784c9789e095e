package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// SessionResult is the outcome of one completed reliable long-sum session.
type SessionResult struct {
	ID          uint64 `gorm:"primaryKey"`
	Peer        string `gorm:"index:idx_peer_session; not null"`
	SessionID   int64  `gorm:"index:idx_peer_session; not null"`
	Operands    int64  `gorm:"not null"`
	Sum         int64
	CompletedAt time.Time
}

// RecordResult persists the SessionResult record to the database.
func RecordResult(db *gorm.DB, result *SessionResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}
	return db.Create(result).Error
}

// FindResult searches for the most recent result of a session, returning nil
// if there is no match.
func FindResult(db *gorm.DB, peer string, sessionID int64) (*SessionResult, error) {
	var result SessionResult
	err := db.Where("peer = ? AND session_id = ?", peer, sessionID).Order("id desc").First(&result).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &result, nil
}

// FindResultsByPeer returns every result recorded for peer, oldest first.
func FindResultsByPeer(db *gorm.DB, peer string) ([]SessionResult, error) {
	var results []SessionResult
	if err := db.Where("peer = ?", peer).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// Ledger records results on behalf of a server.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger { return &Ledger{db: db} }

func (l *Ledger) Record(peer string, sessionID, operands, sum int64) error {
	return RecordResult(l.db, &SessionResult{
		Peer:      peer,
		SessionID: sessionID,
		Operands:  operands,
		Sum:       sum,
	})
}
