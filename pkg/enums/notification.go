package enums

import "fmt"

// NotificationType categorizes in-app and email notifications.
type NotificationType string

const (
	NotificationOrderPlaced     NotificationType = "order_placed"
	NotificationOrderShipped    NotificationType = "order_shipped"
	NotificationOrderDelivered  NotificationType = "order_delivered"
	NotificationEscrowReleased  NotificationType = "escrow_released"
	NotificationEscrowDisputed  NotificationType = "escrow_disputed"
	NotificationPaymentFailed   NotificationType = "payment_failed"
	NotificationPaymentExpired  NotificationType = "payment_expired"
	NotificationCouponRedeemed  NotificationType = "coupon_redeemed"
	NotificationStockDepleted   NotificationType = "stock_depleted"
)

var validNotificationTypes = []NotificationType{
	NotificationOrderPlaced,
	NotificationOrderShipped,
	NotificationOrderDelivered,
	NotificationEscrowReleased,
	NotificationEscrowDisputed,
	NotificationPaymentFailed,
	NotificationPaymentExpired,
	NotificationCouponRedeemed,
	NotificationStockDepleted,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}

// NotificationChannel selects the delivery mechanism for a notification.
type NotificationChannel string

const (
	NotificationChannelInApp NotificationChannel = "in_app"
	NotificationChannelEmail NotificationChannel = "email"
)

var validNotificationChannels = []NotificationChannel{
	NotificationChannelInApp,
	NotificationChannelEmail,
}

// IsValid reports whether the value is a known NotificationChannel.
func (c NotificationChannel) IsValid() bool {
	for _, candidate := range validNotificationChannels {
		if candidate == c {
			return true
		}
	}
	return false
}
