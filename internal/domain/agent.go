package domain

// AgentPrefixLen is how much of a session id identifies an agent.
const AgentPrefixLen = 8

// AgentID derives the grouping key used to count distinct agents:
// source_app, a colon, and the first AgentPrefixLen characters of the
// session id.
func AgentID(sourceApp, sessionID string) string {
	return sourceApp + ":" + prefix(sessionID, AgentPrefixLen)
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
