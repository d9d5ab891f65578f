package balance

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// CRMRecord is one row of the flattened accounts LEFT JOIN devices LEFT
// JOIN addresses read. Device and address columns are nullable because
// an account may have neither.
type CRMRecord struct {
	AccountID  int64   `gorm:"column:account_id"`
	OwnerName  string  `gorm:"column:owner_name"`
	Email      string  `gorm:"column:email"`
	MSISDN     string  `gorm:"column:msisdn"`
	DeviceID   *int64  `gorm:"column:device_id"`
	DeviceName *string `gorm:"column:device_name"`
	DeviceType *string `gorm:"column:device_type"`
	DeviceOS   *string `gorm:"column:device_os"`

	StreetAddress *string `gorm:"column:street_address"`
	City          *string `gorm:"column:city"`
	State         *string `gorm:"column:state"`
	PostalCode    *string `gorm:"column:postal_code"`
	Country       *string `gorm:"column:country"`

	AccountModified time.Time  `gorm:"column:account_modified"`
	DeviceModified  *time.Time `gorm:"column:device_modified"`
	AddressModified *time.Time `gorm:"column:address_modified"`
}

// UsageTotals is the all-time usage attributed to one msisdn.
type UsageTotals struct {
	DataBytes   int64
	CallSeconds int64
}

// Loader reads the balance pass's inputs.
type Loader struct {
	db *gorm.DB
}

func NewLoader(db *gorm.DB) *Loader {
	return &Loader{db: db}
}

// FetchCRM returns the flattened CRM rows, one per (account, device)
// pair, in deterministic order. Accounts without a phone number are
// excluded: nothing can be attributed to them.
func (l *Loader) FetchCRM(ctx context.Context, tx *gorm.DB) ([]CRMRecord, error) {
	if tx == nil {
		tx = l.db
	}
	var rows []CRMRecord
	err := tx.WithContext(ctx).Raw(`
		SELECT
			a.account_id,
			a.owner_name,
			a.email,
			a.phone_number AS msisdn,
			d.device_id,
			d.device_name,
			d.device_type,
			d.device_os,
			addr.street_address,
			addr.city,
			addr.state,
			addr.postal_code,
			addr.country,
			a.modified_ts AS account_modified,
			d.modified_ts AS device_modified,
			addr.modified_ts AS address_modified
		FROM accounts a
		LEFT JOIN devices d ON a.account_id = d.account_id
		LEFT JOIN addresses addr ON a.account_id = addr.account_id
		WHERE a.phone_number IS NOT NULL
		ORDER BY a.account_id, d.device_id`).
		Scan(&rows).Error
	return rows, err
}

// FetchUsageTotals sums raw usage per msisdn across the full event
// history.
func (l *Loader) FetchUsageTotals(ctx context.Context, tx *gorm.DB) (map[string]UsageTotals, error) {
	if tx == nil {
		tx = l.db
	}

	type sumRow struct {
		MSISDN string `gorm:"column:msisdn"`
		Total  int64  `gorm:"column:total"`
	}

	totals := make(map[string]UsageTotals)

	var dataRows []sumRow
	err := tx.WithContext(ctx).Raw(`
		SELECT msisdn, SUM(up_bytes + down_bytes) AS total
		FROM cdr_data_events
		GROUP BY msisdn`).
		Scan(&dataRows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range dataRows {
		t := totals[r.MSISDN]
		t.DataBytes = r.Total
		totals[r.MSISDN] = t
	}

	var voiceRows []sumRow
	err = tx.WithContext(ctx).Raw(`
		SELECT msisdn, SUM(duration_sec) AS total
		FROM cdr_voice_events
		GROUP BY msisdn`).
		Scan(&voiceRows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range voiceRows {
		t := totals[r.MSISDN]
		t.CallSeconds = r.Total
		totals[r.MSISDN] = t
	}

	return totals, nil
}
