package paths

// Topic segments shared by the upload agent and the video-store service.
// Changing them breaks compatibility with deployed video stores.

const (
	// Command carries save requests to a video store.
	// Pattern: {root}/command/{videoStore}
	Command = "command"

	// CommandAck carries the video store's reply to a command.
	// Payload: { "request_id": "...", "result": "...", "error": "..." }
	// Pattern: {root}/command/ack/{videoStore}
	CommandAck = "command/ack"

	// Online carries the retained status of an upload agent. The broker
	// publishes {"online": false} as the agent's will.
	// Payload: { "online": true/false, "timestamp": unix }
	// Pattern: {root}/online/{agentName}
	Online = "online"
)
