package constant

type StreamStatus string

const (
	StreamStatusScheduled StreamStatus = "scheduled"
	StreamStatusLive      StreamStatus = "live"
	StreamStatusEnded     StreamStatus = "ended"
	StreamStatusCancelled StreamStatus = "cancelled"
)

func (s StreamStatus) String() string {
	return string(s)
}

type VideoStatus string

const (
	VideoStatusPending VideoStatus = "pending"
	VideoStatusReady   VideoStatus = "ready"
	VideoStatusFailed  VideoStatus = "failed"
)

func (s VideoStatus) String() string {
	return string(s)
}

type StreamCommand string

const (
	CommandStartStream StreamCommand = "stream.start"
	CommandKillStream  StreamCommand = "stream.kill"
)

func (c StreamCommand) RoutingKey() string {
	return string(c)
}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
