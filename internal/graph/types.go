package graph

import "time"

// Projections requested from Graph.
const (
	userSelect    = "displayName,userPrincipalName"
	messageSelect = "sender,subject,from,toRecipients"
)

// User is the signed-in user's profile.
type User struct {
	ODataContext      string `json:"@odata.context,omitempty"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// EmailAddress is a name and address pair.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
}

// Recipient wraps an EmailAddress the way Graph nests it.
type Recipient struct {
	EmailAddress EmailAddress `json:"emailAddress"`
}

// Message is a mail message restricted to the fields the server selects.
type Message struct {
	ODataEtag    string      `json:"@odata.etag,omitempty"`
	ID           string      `json:"id"`
	Subject      string      `json:"subject"`
	Sender       *Recipient  `json:"sender,omitempty"`
	From         *Recipient  `json:"from,omitempty"`
	ToRecipients []Recipient `json:"toRecipients"`
}

// SenderAddress returns the sender's address, or "" when absent.
func (m *Message) SenderAddress() string {
	if m.Sender != nil && m.Sender.EmailAddress.Address != "" {
		return m.Sender.EmailAddress.Address
	}
	if m.From != nil {
		return m.From.EmailAddress.Address
	}
	return ""
}

// MessageList is one page of messages, returned to callers as-is.
type MessageList struct {
	ODataContext string    `json:"@odata.context,omitempty"`
	Value        []Message `json:"value"`
	NextLink     string    `json:"@odata.nextLink,omitempty"`
}

// Subscription is a Graph change notification subscription.
type Subscription struct {
	ID                        string    `json:"id,omitempty"`
	Resource                  string    `json:"resource"`
	ChangeType                string    `json:"changeType"`
	NotificationURL           string    `json:"notificationUrl"`
	ExpirationDateTime        time.Time `json:"expirationDateTime"`
	ClientState               string    `json:"clientState,omitempty"`
	ApplicationID             string    `json:"applicationId,omitempty"`
	CreatorID                 string    `json:"creatorId,omitempty"`
	LatestSupportedTLSVersion string    `json:"latestSupportedTlsVersion,omitempty"`
}

type subscriptionList struct {
	Value    []Subscription `json:"value"`
	NextLink string         `json:"@odata.nextLink,omitempty"`
}

type subscriptionRenewal struct {
	ExpirationDateTime time.Time `json:"expirationDateTime"`
}

// errorResponse is the OData error envelope.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}
