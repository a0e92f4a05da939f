package event

// TopicSchemeRegistered adds a claim topic scheme to a registry.
type TopicSchemeRegistered struct {
	Header
	Registry string
	Topic    string
}

func (e *TopicSchemeRegistered) EventType() EventType {
	return EventTypeTopicSchemeRegistered
}

func (e *TopicSchemeRegistered) Validate() error {
	return validateMember(e.Header, e.Registry, "topic", e.Topic)
}

// TopicSchemeRemoved drops a claim topic scheme from a registry.
type TopicSchemeRemoved struct {
	Header
	Registry string
	Topic    string
}

func (e *TopicSchemeRemoved) EventType() EventType {
	return EventTypeTopicSchemeRemoved
}

func (e *TopicSchemeRemoved) Validate() error {
	return validateMember(e.Header, e.Registry, "topic", e.Topic)
}

// TrustedIssuerAdded trusts a claim issuer in a registry.
type TrustedIssuerAdded struct {
	Header
	Registry string
	Issuer   string
}

func (e *TrustedIssuerAdded) EventType() EventType {
	return EventTypeTrustedIssuerAdded
}

func (e *TrustedIssuerAdded) Validate() error {
	if err := validateMember(e.Header, e.Registry, "issuer", e.Issuer); err != nil {
		return err
	}
	return requireAddress("issuer", e.Issuer)
}

// TrustedIssuerRemoved revokes trust in a claim issuer.
type TrustedIssuerRemoved struct {
	Header
	Registry string
	Issuer   string
}

func (e *TrustedIssuerRemoved) EventType() EventType {
	return EventTypeTrustedIssuerRemoved
}

func (e *TrustedIssuerRemoved) Validate() error {
	if err := validateMember(e.Header, e.Registry, "issuer", e.Issuer); err != nil {
		return err
	}
	return requireAddress("issuer", e.Issuer)
}

func validateMember(h Header, registry, field, member string) error {
	if err := h.validate(); err != nil {
		return err
	}
	if err := requireAddress("registry", registry); err != nil {
		return err
	}
	if member == "" {
		return malformed("%s is required", field)
	}
	return nil
}
