package protocol

// Event names pushed from the daemon to clients. Every device event
// payload carries the device ID it belongs to.
const (
	EventBatteryStatus     = "battery.status"
	EventHeadsetConnection = "headset.connection"
	EventShutdown          = "shutdown"
)

// DeviceEvent is the common envelope of device event payloads.
type DeviceEvent struct {
	DeviceID string `json:"deviceId"`
}

// BatteryStatusPayload is the payload of EventBatteryStatus.
type BatteryStatusPayload struct {
	DeviceID       string `json:"deviceId"`
	LevelInPercent int    `json:"levelInPercent"`
	IsCharging     bool   `json:"isCharging"`
	IsBatteryLow   bool   `json:"isBatteryLow"`
}

// HeadsetConnectionPayload is the payload of EventHeadsetConnection.
type HeadsetConnectionPayload struct {
	DeviceID  string `json:"deviceId"`
	Connected bool   `json:"connected"`
}
