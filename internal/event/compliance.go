package event

// ComplianceModuleAdded attaches a compliance module to a token.
type ComplianceModuleAdded struct {
	Header
	Token  string
	Module string
}

func (e *ComplianceModuleAdded) EventType() EventType {
	return EventTypeComplianceModuleAdded
}

func (e *ComplianceModuleAdded) TokenAddress() string {
	return e.Token
}

func (e *ComplianceModuleAdded) Validate() error {
	return validateModule(e.Header, e.Token, e.Module)
}

// ComplianceModuleRemoved detaches a compliance module from a token.
type ComplianceModuleRemoved struct {
	Header
	Token  string
	Module string
}

func (e *ComplianceModuleRemoved) EventType() EventType {
	return EventTypeComplianceModuleRemoved
}

func (e *ComplianceModuleRemoved) TokenAddress() string {
	return e.Token
}

func (e *ComplianceModuleRemoved) Validate() error {
	return validateModule(e.Header, e.Token, e.Module)
}

// ComplianceParamsUpdated changes an attached module's parameters.
type ComplianceParamsUpdated struct {
	Header
	Token  string
	Module string
}

func (e *ComplianceParamsUpdated) EventType() EventType {
	return EventTypeComplianceParamsUpdated
}

func (e *ComplianceParamsUpdated) TokenAddress() string {
	return e.Token
}

func (e *ComplianceParamsUpdated) Validate() error {
	return validateModule(e.Header, e.Token, e.Module)
}

func validateModule(h Header, token, module string) error {
	if err := h.validate(); err != nil {
		return err
	}
	if err := requireAddress("token", token); err != nil {
		return err
	}
	return requireAddress("module", module)
}
