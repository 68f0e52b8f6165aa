package wa

import (
	"encoding/json"
	"fmt"

	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
)

// identity is the credential blob produced by this Transport. The signal
// keys themselves live in the whatsmeow device database; the blob names the
// device to load from it.
type identity struct {
	JID          string `json:"jid"`
	LID          string `json:"lid,omitempty"`
	Platform     string `json:"platform,omitempty"`
	PushName     string `json:"push_name,omitempty"`
	BusinessName string `json:"business_name,omitempty"`
}

func encodeIdentity(id identity) []byte {
	b, _ := json.Marshal(id)
	return b
}

func identityOf(dev *wastore.Device) identity {
	var id identity
	if dev == nil || dev.ID == nil {
		return id
	}
	id.JID = dev.ID.String()
	if !dev.LID.IsEmpty() {
		id.LID = dev.LID.String()
	}
	id.Platform = dev.Platform
	id.PushName = dev.PushName
	id.BusinessName = dev.BusinessName
	return id
}

// decodeIdentity returns the device JID named by blob. An empty blob yields
// an empty JID.
func decodeIdentity(blob []byte) (types.JID, error) {
	if len(blob) == 0 {
		return types.EmptyJID, nil
	}
	var id identity
	if err := json.Unmarshal(blob, &id); err != nil {
		return types.EmptyJID, fmt.Errorf("decode identity: %w", err)
	}
	if id.JID == "" {
		return types.EmptyJID, nil
	}
	jid, err := types.ParseJID(id.JID)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse device jid: %w", err)
	}
	return jid, nil
}
