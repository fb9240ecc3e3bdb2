package model

import "time"

// PresenceStatus is what a user shows to others.
type PresenceStatus uint8

const (
	StatusOnline PresenceStatus = iota
	StatusIdle
	StatusDND
	StatusOffline
)

var presenceStatusNames = []string{"online", "idle", "dnd", "offline"}

func (s PresenceStatus) MarshalText() ([]byte, error) {
	return enumName(presenceStatusNames, s, "presence status")
}

func (s *PresenceStatus) UnmarshalText(text []byte) error {
	v, err := parseEnum[PresenceStatus](presenceStatusNames, text, "presence status")
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Device is a single client platform.
type Device uint8

const (
	DeviceDesktop Device = iota
	DeviceMobile
	DeviceWeb
)

var deviceNames = []string{"desktop", "mobile", "web"}

func (d Device) MarshalText() ([]byte, error) {
	return enumName(deviceNames, d, "device")
}

func (d *Device) UnmarshalText(text []byte) error {
	v, err := parseEnum[Device](deviceNames, text, "device")
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Flag returns the Devices bit for d.
func (d Device) Flag() Devices { return 1 << d }

// Devices is a set of Device values, one bit per discriminant.
type Devices uint8

const (
	DevicesDesktop Devices = 1 << iota
	DevicesMobile
	DevicesWeb
)

const allDevices = DevicesWeb<<1 - 1

// AllDevices is every known platform.
func AllDevices() Devices { return allDevices }

func (d *Devices) UnmarshalJSON(data []byte) error {
	v, err := decodeFlags(data, allDevices)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// Presence is a user's status plus the platforms they are connected from.
type Presence struct {
	Status      PresenceStatus `json:"status"`
	Devices     Devices        `json:"devices"`
	OnlineSince *time.Time     `json:"online_since"`
}
