package connection

import "github.com/BaSui01/chatwidget/streaming/transport"

func transportRequest(sessionID string) transport.Request {
	return transport.NewRequest("tenant", "hello", sessionID, "msg-"+sessionID)
}
