package optname

const (
	ConnTimeout        = "connect-timeout"
	ConnectionsPerHost = "connections-per-host"
	UnsafeCap          = "unsafe-cap"
	InitialSegments    = "initial-segments"
	Mirror             = "mirror"
	Resume             = "resume"
	RequestTimeout     = "timeout-secs"
	BandwidthLimit     = "bandwidth-limit"
	Retries            = "retries"
	Extract            = "extract"
	OutputConsumer     = "output-consumer"
	Force              = "force"
	ForceHTTP2         = "force-http2"
	Resolve            = "resolve"
	SHA256             = "sha256"
	EventsSink         = "events"
	LoggingLevel       = "log-level"
	Verbose            = "verbose"
	MaxConcurrentFiles = "max-concurrent-files"
)
