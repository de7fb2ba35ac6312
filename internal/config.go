package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=168h"`
	AuthGracePeriod   time.Duration `env:"AUTH_GRACE_PERIOD,default=10s"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGIN,default=http://localhost:3000"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	BlugeFilepath  string `env:"BLUGE_FILEPATH,required=true"`
	UserCacheSize  int    `env:"USER_CACHE_SIZE,default=1024"`

	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=2s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongTimeout          time.Duration `env:"PONG_TIMEOUT,default=60s"`
	PingInterval         time.Duration `env:"PING_INTERVAL,default=50s"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	MaxFrameBytes        int64         `env:"MAX_FRAME_BYTES,default=16384"`
	MessageRate          float64       `env:"MESSAGE_RATE,default=10"`
	MessageBurst         int           `env:"MESSAGE_BURST,default=20"`

	HistoryDefaultLimit int `env:"HISTORY_DEFAULT_LIMIT,default=50"`
	HistoryMaxLimit     int `env:"HISTORY_MAX_LIMIT,default=200"`

	ModerationEnabled bool   `env:"MODERATION_ENABLED,default=true"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`

	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=1s"`
	MetricInterval     time.Duration `env:"METRIC_INTERVAL,default=30s"`
	GCInterval         time.Duration `env:"GC_INTERVAL,default=5m"`
	PresenceBufferSize int           `env:"PRESENCE_BUFFER_SIZE,default=256"`
	PresenceTimeout    time.Duration `env:"PRESENCE_TIMEOUT,default=2s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	DebugPort int `env:"DEBUG_PORT,default=8081"`
}

func (c Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
