package ios

type stopSessionRequest struct {
	Label     string
	Request   string
	SessionID string
}

func newStopSessionRequest(label string, sessionID string) stopSessionRequest {
	return stopSessionRequest{
		Label:     label,
		Request:   "StopSession",
		SessionID: sessionID,
	}
}

// StopSession sends a Lockdown StopSessionRequest to the device. It does nothing
// if no session was started.
func (lockDownConn *LockDownConnection) StopSession() error {
	if lockDownConn.sessionID == "" {
		return nil
	}
	sessionID := lockDownConn.sessionID
	lockDownConn.sessionID = ""
	err := lockDownConn.Send(newStopSessionRequest(lockDownConn.label, sessionID))
	if err != nil {
		return err
	}
	// the StopSession response carries nothing we act on
	_, err = lockDownConn.ReadMessage()
	return err
}
