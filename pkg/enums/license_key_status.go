package enums

import "fmt"

// LicenseKeyStatus tracks whether a stock key can still be sold.
type LicenseKeyStatus string

const (
	LicenseKeyStatusAvailable LicenseKeyStatus = "available"
	LicenseKeyStatusAssigned  LicenseKeyStatus = "assigned"
	LicenseKeyStatusRefunded  LicenseKeyStatus = "refunded"
)

var validLicenseKeyStatuses = []LicenseKeyStatus{
	LicenseKeyStatusAvailable,
	LicenseKeyStatusAssigned,
	LicenseKeyStatusRefunded,
}

// String implements fmt.Stringer.
func (l LicenseKeyStatus) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LicenseKeyStatus.
func (l LicenseKeyStatus) IsValid() bool {
	for _, candidate := range validLicenseKeyStatuses {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLicenseKeyStatus converts raw input into a LicenseKeyStatus.
func ParseLicenseKeyStatus(value string) (LicenseKeyStatus, error) {
	for _, candidate := range validLicenseKeyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid license key status %q", value)
}
