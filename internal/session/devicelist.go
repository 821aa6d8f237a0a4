package session

import "encoding/json"

// Freshness records which halves of the device list reflect the latest refresh.
type Freshness uint8

const (
	InstalledValid Freshness = 1 << iota
	AvailableValid

	bothValid = InstalledValid | AvailableValid
)

// DeviceListCache holds the installed and available device descriptors.
// Each half is replaced wholesale when its frame arrives.
type DeviceListCache struct {
	installed json.RawMessage
	available json.RawMessage
	fresh     Freshness
}

// Invalidate clears both freshness bits ahead of a refresh.
func (c *DeviceListCache) Invalidate() {
	c.fresh = 0
}

// SetInstalled replaces the installed half and marks it fresh.
func (c *DeviceListCache) SetInstalled(raw json.RawMessage) {
	c.installed = append(json.RawMessage(nil), raw...)
	c.fresh |= InstalledValid
}

// SetAvailable replaces the available half and marks it fresh.
func (c *DeviceListCache) SetAvailable(raw json.RawMessage) {
	c.available = append(json.RawMessage(nil), raw...)
	c.fresh |= AvailableValid
}

// Freshness returns the current freshness bits.
func (c *DeviceListCache) Freshness() Freshness {
	return c.fresh
}

// Fresh reports whether both halves are up to date.
func (c *DeviceListCache) Fresh() bool {
	return c.fresh&bothValid == bothValid
}

// DeviceList is a complete, fresh pair of device lists.
type DeviceList struct {
	Available json.RawMessage `json:"available"`
	Installed json.RawMessage `json:"installed"`
}

// Snapshot returns both halves, or ErrStaleDeviceList unless both are fresh.
func (c *DeviceListCache) Snapshot() (DeviceList, error) {
	if !c.Fresh() {
		return DeviceList{}, ErrStaleDeviceList
	}
	return DeviceList{
		Available: append(json.RawMessage(nil), c.available...),
		Installed: append(json.RawMessage(nil), c.installed...),
	}, nil
}
