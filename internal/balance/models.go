// Package balance builds the flattened per-(account, device) profile:
// CRM identity columns joined with accumulated usage cost in the base
// and converted currencies.
package balance

import "time"

// Account is a CRM account row. Read-only, owned upstream.
type Account struct {
	AccountID   int64     `gorm:"column:account_id;primaryKey"`
	OwnerName   string    `gorm:"column:owner_name;type:varchar(255)"`
	Email       string    `gorm:"column:email;type:varchar(255)"`
	PhoneNumber *string   `gorm:"column:phone_number;type:varchar(20)"`
	ModifiedTS  time.Time `gorm:"column:modified_ts"`
}

func (Account) TableName() string { return "accounts" }

// Device is a CRM device row. Read-only, owned upstream.
type Device struct {
	DeviceID   int64     `gorm:"column:device_id;primaryKey"`
	AccountID  int64     `gorm:"column:account_id;index"`
	DeviceName string    `gorm:"column:device_name;type:varchar(255)"`
	DeviceType string    `gorm:"column:device_type;type:varchar(50)"`
	DeviceOS   string    `gorm:"column:device_os;type:varchar(50)"`
	ModifiedTS time.Time `gorm:"column:modified_ts"`
}

func (Device) TableName() string { return "devices" }

// Address is a CRM address row. Read-only, owned upstream.
type Address struct {
	AddressID     int64     `gorm:"column:address_id;primaryKey"`
	AccountID     int64     `gorm:"column:account_id;index"`
	StreetAddress string    `gorm:"column:street_address;type:varchar(500)"`
	City          string    `gorm:"column:city;type:varchar(100)"`
	State         string    `gorm:"column:state;type:varchar(50)"`
	PostalCode    string    `gorm:"column:postal_code;type:varchar(20)"`
	Country       string    `gorm:"column:country;type:varchar(50)"`
	ModifiedTS    time.Time `gorm:"column:modified_ts"`
}

func (Address) TableName() string { return "addresses" }

// BalanceProfile is the flattened derived view, rebuilt whole on every
// balance pass. total_cost_zar = data_cost_zar + voice_cost_zar and
// running_balance_zar = -total_cost_zar always hold (prepaid debit).
type BalanceProfile struct {
	AccountID int64  `gorm:"column:account_id;primaryKey;autoIncrement:false"`
	OwnerName string `gorm:"column:owner_name;type:varchar(255)"`
	Email     string `gorm:"column:email;type:varchar(255)"`
	MSISDN    string `gorm:"column:msisdn;type:varchar(20);index"`

	DeviceID   int64  `gorm:"column:device_id;primaryKey;autoIncrement:false"`
	DeviceName string `gorm:"column:device_name;type:varchar(255)"`
	DeviceType string `gorm:"column:device_type;type:varchar(50)"`
	DeviceOS   string `gorm:"column:device_os;type:varchar(50)"`

	StreetAddress string `gorm:"column:street_address;type:varchar(500)"`
	City          string `gorm:"column:city;type:varchar(100)"`
	State         string `gorm:"column:state;type:varchar(50)"`
	PostalCode    string `gorm:"column:postal_code;type:varchar(20)"`
	Country       string `gorm:"column:country;type:varchar(50)"`

	LastModified time.Time `gorm:"column:last_modified"`

	TotalDataBytes    int64   `gorm:"column:total_data_bytes;not null;default:0"`
	DataCostZAR       float64 `gorm:"column:data_cost_zar;not null;default:0"`
	TotalCallSeconds  int64   `gorm:"column:total_call_seconds;not null;default:0"`
	VoiceCostZAR      float64 `gorm:"column:voice_cost_zar;not null;default:0"`
	TotalCostZAR      float64 `gorm:"column:total_cost_zar;not null;default:0"`
	RunningBalanceZAR float64 `gorm:"column:running_balance_zar;not null;default:0"`

	DataCostWAK   int64   `gorm:"column:data_cost_wak;not null;default:0"`
	VoiceCostWAK  int64   `gorm:"column:voice_cost_wak;not null;default:0"`
	TotalCostWAK  int64   `gorm:"column:total_cost_wak;not null;default:0"`
	AvgWAKMRVRate float64 `gorm:"column:avg_wakmrv_rate;not null;default:0"`
	AvgMRVZARRate float64 `gorm:"column:avg_mrvzar_rate;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;not null"`
}

func (BalanceProfile) TableName() string { return "balance_profile" }
