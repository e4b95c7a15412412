package webhook

import (
	"encoding/xml"
	"fmt"
)

// encryptedEnvelope is the outer XML body of a callback POST. Only the
// Encrypt field participates in signature verification.
type encryptedEnvelope struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// callbackEvent is the decrypted inner XML of a customer-service callback.
type callbackEvent struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	CreateTime int64    `xml:"CreateTime"`
	MsgType    string   `xml:"MsgType"`
	Event      string   `xml:"Event"`
	Token      string   `xml:"Token"`
	OpenKFID   string   `xml:"OpenKfId"`
}

// parseEnvelope decodes the outer envelope and requires a non-empty Encrypt
// field.
func parseEnvelope(body []byte) (*encryptedEnvelope, error) {
	var env encryptedEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Encrypt == "" {
		return nil, fmt.Errorf("envelope missing Encrypt field")
	}
	return &env, nil
}

// parseEvent decodes the decrypted callback payload.
func parseEvent(plaintext []byte) (*callbackEvent, error) {
	var ev callbackEvent
	if err := xml.Unmarshal(plaintext, &ev); err != nil {
		return nil, fmt.Errorf("invalid event payload: %w", err)
	}
	return &ev, nil
}
