package signalr

// negotiateResponse is the payload answered on the negotiate path. Either
// TryWebSockets (protocol < 1.6) or Transports (protocol >= 1.6) is present,
// never both.
type negotiateResponse struct {
	URL                     string   `json:"Url"`
	ConnectionToken         string   `json:"ConnectionToken"`
	ConnectionID            string   `json:"ConnectionId"`
	KeepAliveTimeout        *float64 `json:"KeepAliveTimeout,omitempty"`
	DisconnectTimeout       float64  `json:"DisconnectTimeout"`
	ConnectionTimeout       float64  `json:"ConnectionTimeout"`
	TryWebSockets           *bool    `json:"TryWebSockets,omitempty"`
	Transports              []string `json:"Transports,omitempty"`
	ProtocolVersion         string   `json:"ProtocolVersion"`
	TransportConnectTimeout float64  `json:"TransportConnectTimeout"`
	LongPollDelay           float64  `json:"LongPollDelay"`
}

// persistentResponse is the envelope every transport delivers messages in.
// C is the cursor of the last message in M; a reconnecting client sends it
// back as messageId to resume gap free.
type persistentResponse struct {
	Cursor        string        `json:"C"`
	Messages      []interface{} `json:"M"`
	Initializing  int           `json:"S,omitempty"`
	TimedOut      int           `json:"T,omitempty"`
	Disconnect    int           `json:"D,omitempty"`
	GroupsToken   string        `json:"G,omitempty"`
	LongPollDelay float64       `json:"L,omitempty"`
}

// statusResponse answers the auxiliary ping and start paths.
type statusResponse struct {
	Response string `json:"Response"`
}
