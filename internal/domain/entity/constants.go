package entity

// Channel constants for Subscription
const (
	ChannelWebPush    = "web_push"
	ChannelNativePush = "native_push"
	ChannelLark       = "lark"
	ChannelTelegram   = "telegram"
)

// Delivery status constants for DeliveryRecord
const (
	DeliveryStatusSent      = "SENT"
	DeliveryStatusFailed    = "FAILED"
	DeliveryStatusInvalid   = "INVALID"
	DeliveryStatusAbandoned = "ABANDONED"
)

// Artifact format constants
const (
	ArtifactFormatPNG  = "png"
	ArtifactFormatXLSX = "xlsx"
)

// IsValidChannel checks if the channel is one of the supported delivery channels
func IsValidChannel(channel string) bool {
	switch channel {
	case ChannelWebPush, ChannelNativePush, ChannelLark, ChannelTelegram:
		return true
	default:
		return false
	}
}
