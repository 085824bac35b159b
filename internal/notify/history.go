package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/screen-watchdog/internal/table"
)

const alertsBucket = "alerts"

// ErrAlertNotFound is returned by GetAlert for an unknown id
var ErrAlertNotFound = errors.New("alert not found")

// Alert records one qualifying row and what happened when it was sent out
type Alert struct {
	ID         string           `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Row        table.Row        `json:"row"`
	ImagePath  string           `json:"image_path"`
	Caption    string           `json:"caption"`
	Deliveries []DeliveryResult `json:"deliveries"`
}

// History defines the interface for alert history operations
type History interface {
	// SaveAlert stores or replaces an alert
	SaveAlert(alert *Alert) error

	// GetAlert retrieves an alert by ID
	GetAlert(id string) (*Alert, error)

	// ListAlerts returns every alert in key order
	ListAlerts() ([]*Alert, error)

	// Close closes the underlying store
	Close() error
}

// BoltHistory implements the History interface using BoltDB
type BoltHistory struct {
	db *bbolt.DB
}

// NewBoltHistory opens (or creates) the alert history at path
func NewBoltHistory(path string) (*BoltHistory, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(alertsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltHistory{db: db}, nil
}

// SaveAlert stores an alert under its ID
func (b *BoltHistory) SaveAlert(alert *Alert) error {
	if alert.ID == "" {
		return errors.New("alert id is required")
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(alertsBucket))
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("marshaling alert: %w", err)
		}
		return bucket.Put([]byte(alert.ID), data)
	})
}

// GetAlert retrieves an alert by ID
func (b *BoltHistory) GetAlert(id string) (*Alert, error) {
	var alert *Alert
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(alertsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
		}
		return json.Unmarshal(data, &alert)
	})
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts returns all alerts. IDs are time ordered, so this is oldest first.
func (b *BoltHistory) ListAlerts() ([]*Alert, error) {
	alerts := make([]*Alert, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(alertsBucket)).ForEach(func(k, v []byte) error {
			var alert Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return fmt.Errorf("unmarshaling alert %s: %w", k, err)
			}
			alerts = append(alerts, &alert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return alerts, nil
}

// Close closes the database
func (b *BoltHistory) Close() error {
	return b.db.Close()
}
