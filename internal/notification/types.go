package notification

import "time"

// MessageODataType is the resource type of mail message notifications.
const MessageODataType = "#Microsoft.Graph.Message"

// ChangeTypeDeleted marks a notification for a removed resource.
const ChangeTypeDeleted = "deleted"

// Batch is the body Graph posts to the notification URL.
type Batch struct {
	Value []ChangeNotification `json:"value"`
}

// ChangeNotification is a single entry of a Batch.
type ChangeNotification struct {
	SubscriptionID                 string       `json:"subscriptionId"`
	SubscriptionExpirationDateTime time.Time    `json:"subscriptionExpirationDateTime"`
	ChangeType                     string       `json:"changeType"`
	ClientState                    string       `json:"clientState"`
	Resource                       string       `json:"resource"`
	TenantID                       string       `json:"tenantId,omitempty"`
	ResourceData                   ResourceData `json:"resourceData"`
}

// ResourceData identifies the changed resource.
type ResourceData struct {
	ODataType string `json:"@odata.type"`
	ODataID   string `json:"@odata.id,omitempty"`
	ODataEtag string `json:"@odata.etag,omitempty"`
	ID        string `json:"id"`
}

// dedupKey identifies a notification for duplicate suppression. The etag
// tells a redelivery apart from a later change to the same message.
func (n ChangeNotification) dedupKey() string {
	return n.SubscriptionID + "|" + n.ChangeType + "|" + n.ResourceData.ID + "|" + n.ResourceData.ODataEtag
}
