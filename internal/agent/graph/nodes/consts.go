package nodes

// Workflow node keys.
const (
	NodeValidateInput    = "validate_input"
	NodeProcessMessage   = "process_message"
	NodeGenerateResponse = "generate_response"
	NodeHandleError      = "handle_error"
	NodeSendResponse     = "send_response"
)
