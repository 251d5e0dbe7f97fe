package protocol

// RPC method names.
const (
	MethodConnect = "connect"
	MethodPing    = "ping"

	MethodDevicesList          = "devices.list"
	MethodCapabilityQuery      = "device.capability.query"
	MethodPairingKeyRead       = "device.pairingKey.read"
	MethodPairingKeyWrite      = "device.pairingKey.write"
	MethodSecurePairingTrigger = "device.securePairing.trigger"
	MethodHeadsetNameRead      = "device.headsetName.read"
)

// ConnectParams is sent with MethodConnect.
type ConnectParams struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol"`
}

// DeviceParams addresses a device.
type DeviceParams struct {
	DeviceID string `json:"deviceId"`
}

// CapabilityParams is sent with MethodCapabilityQuery.
type CapabilityParams struct {
	DeviceID   string `json:"deviceId"`
	Capability string `json:"capability"`
}

// CapabilityResult answers MethodCapabilityQuery.
type CapabilityResult struct {
	Supported bool `json:"supported"`
}

// PairingKeyParams is sent with MethodPairingKeyWrite.
type PairingKeyParams struct {
	DeviceID string `json:"deviceId"`
	Key      uint32 `json:"key"`
}

// PairingKeyResult answers MethodPairingKeyRead.
type PairingKeyResult struct {
	Key uint32 `json:"key"`
}

// HeadsetNameParams is sent with MethodHeadsetNameRead.
type HeadsetNameParams struct {
	DeviceID string `json:"deviceId"`
	Selector string `json:"selector"`
}

// HeadsetNameResult answers MethodHeadsetNameRead.
type HeadsetNameResult struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// DeviceInfo describes an attached device in MethodDevicesList results.
type DeviceInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Vendor    string `json:"vendor,omitempty"`
	Serial    string `json:"serial,omitempty"`
	ProductID uint16 `json:"productId,omitempty"`
}

// DevicesListResult answers MethodDevicesList.
type DevicesListResult struct {
	Devices []DeviceInfo `json:"devices"`
}
