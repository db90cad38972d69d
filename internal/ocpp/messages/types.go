// Package messages defines the OCPP 1.6J payload types exchanged between
// a charge point and the CSMS. Field shapes and validation tags follow
// the OCPP 1.6 Core Profile JSON schema.
package messages

import "time"

// Action identifies an OCPP operation carried in a CALL frame.
type Action string

const (
	ActionAuthorize              Action = "Authorize"
	ActionBootNotification       Action = "BootNotification"
	ActionChangeConfiguration    Action = "ChangeConfiguration"
	ActionDataTransfer           Action = "DataTransfer"
	ActionGetConfiguration       Action = "GetConfiguration"
	ActionHeartbeat              Action = "Heartbeat"
	ActionMeterValues            Action = "MeterValues"
	ActionRemoteStartTransaction Action = "RemoteStartTransaction"
	ActionRemoteStopTransaction  Action = "RemoteStopTransaction"
	ActionStartTransaction       Action = "StartTransaction"
	ActionStatusNotification     Action = "StatusNotification"
	ActionStopTransaction        Action = "StopTransaction"
	ActionUnlockConnector        Action = "UnlockConnector"
)

// ChargePointStatus is the status reported in StatusNotification.
type ChargePointStatus string

const (
	StatusAvailable     ChargePointStatus = "Available"
	StatusPreparing     ChargePointStatus = "Preparing"
	StatusCharging      ChargePointStatus = "Charging"
	StatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	StatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	StatusFinishing     ChargePointStatus = "Finishing"
	StatusReserved      ChargePointStatus = "Reserved"
	StatusUnavailable   ChargePointStatus = "Unavailable"
	StatusFaulted       ChargePointStatus = "Faulted"
	StatusOccupied      ChargePointStatus = "Occupied" // non-standard but emitted by some field chargers; treated like Preparing for watchdog purposes
)

// ChargePointErrorCode accompanies every StatusNotification.
type ChargePointErrorCode string

const (
	ErrorCodeConnectorLockFailure ChargePointErrorCode = "ConnectorLockFailure"
	ErrorCodeNoError              ChargePointErrorCode = "NoError"
	ErrorCodeOtherError           ChargePointErrorCode = "OtherError"
	ErrorCodeInternalError        ChargePointErrorCode = "InternalError"
)

// RegistrationStatus is returned in BootNotificationResponse.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "Accepted"
	RegistrationPending  RegistrationStatus = "Pending"
	RegistrationRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus classifies an idTag in IdTagInfo.
type AuthorizationStatus string

const (
	AuthorizationAccepted     AuthorizationStatus = "Accepted"
	AuthorizationBlocked      AuthorizationStatus = "Blocked"
	AuthorizationExpired      AuthorizationStatus = "Expired"
	AuthorizationInvalid      AuthorizationStatus = "Invalid"
	AuthorizationConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// UnlockStatus is returned in UnlockConnectorResponse.
type UnlockStatus string

const (
	UnlockUnlocked     UnlockStatus = "Unlocked"
	UnlockUnlockFailed UnlockStatus = "UnlockFailed"
	UnlockNotSupported UnlockStatus = "NotSupported"
)

// RemoteStartStopStatus is returned by RemoteStartTransaction/RemoteStopTransaction.
type RemoteStartStopStatus string

const (
	RemoteAccepted RemoteStartStopStatus = "Accepted"
	RemoteRejected RemoteStartStopStatus = "Rejected"
)

// ConfigurationStatus is returned by ChangeConfiguration.
type ConfigurationStatus string

const (
	ConfigurationAccepted       ConfigurationStatus = "Accepted"
	ConfigurationRejected       ConfigurationStatus = "Rejected"
	ConfigurationRebootRequired ConfigurationStatus = "RebootRequired"
	ConfigurationNotSupported   ConfigurationStatus = "NotSupported"
)

// DataTransferStatus is returned by DataTransfer.
type DataTransferStatus string

const (
	DataTransferAccepted         DataTransferStatus = "Accepted"
	DataTransferRejected         DataTransferStatus = "Rejected"
	DataTransferUnknownMessageID DataTransferStatus = "UnknownMessageId"
	DataTransferUnknownVendorID  DataTransferStatus = "UnknownVendorId"
)

// DateTime wraps time.Time with a lenient wire parsing rule: RFC 3339
// (with or without fractional seconds) and the zone-less forms
// "2006-01-02T15:04:05" and "2006-01-02 15:04:05" are parsed; any other
// input, other ISO 8601 forms included, substitutes now() rather than
// failing the frame.
type DateTime struct {
	time.Time
}

// Now returns a DateTime set to the current UTC instant.
func Now() DateTime {
	return DateTime{Time: time.Now().UTC()}
}

// MarshalJSON renders the timestamp as RFC 3339 with a trailing Z.
func (dt DateTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.UTC().Format(time.RFC3339) + `"`), nil
}

// UnmarshalJSON implements the parse-or-substitute-now rule: a
// malformed or absent timestamp must never cause a charging session to
// be dropped.
func (dt *DateTime) UnmarshalJSON(data []byte) error {
	dt.Time = ParseLenient(string(data))
	return nil
}

// ParseLenient accepts a JSON string literal (quotes included or not) in
// one of the layouts listed on DateTime and falls back to time.Now()
// for anything else. Every
// timestamp field on the wire funnels through this one helper.
func ParseLenient(raw string) time.Time {
	s := raw
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" || s == "null" {
		return time.Now().UTC()
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Now().UTC()
}

// IdTagInfo accompanies Authorize/StartTransaction/StopTransaction responses.
type IdTagInfo struct {
	ExpiryDate  *DateTime           `json:"expiryDate,omitempty"`
	ParentIdTag *string             `json:"parentIdTag,omitempty" validate:"omitempty,max=20"`
	Status      AuthorizationStatus `json:"status" validate:"required"`
}

// KeyValue is one entry of a GetConfiguration response.
type KeyValue struct {
	Key      string  `json:"key" validate:"required,max=50"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty" validate:"omitempty,max=500"`
}

// MeterValue is one sampled reading window reported by MeterValues.
type MeterValue struct {
	Timestamp    DateTime       `json:"timestamp" validate:"required"`
	SampledValue []SampledValue `json:"sampledValue" validate:"required,min=1"`
}

// SampledValue is a single measurand sample within a MeterValue.
type SampledValue struct {
	Value     string  `json:"value" validate:"required"`
	Context   *string `json:"context,omitempty"`
	Measurand *string `json:"measurand,omitempty"`
	Unit      *string `json:"unit,omitempty"`
}
