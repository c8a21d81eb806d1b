package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	// WhatsApp gateway
	&Session{},
	&SessionDetail{},
	&Message{},
	&Contact{},
	&WebhookEvent{},
}
