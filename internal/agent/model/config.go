package model

import "time"

// ================ Config ================
type ServerConfig struct {
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"PORT" default:"8000"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"60s"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	MaxBodyBytes    int64         `envconfig:"HTTP_MAX_BODY_BYTES" default:"1048576"`
}

type SecurityConfig struct {
	APIKeys       []string      `envconfig:"API_KEYS"`
	JWTSecret     string        `envconfig:"JWT_SECRET"`
	JWTExpiration time.Duration `envconfig:"JWT_EXPIRATION" default:"24h"`
	WebhookSecret string        `envconfig:"WEBHOOK_SECRET"`
}

type WorkflowConfig struct {
	MaxInputLength    int           `envconfig:"MAX_MESSAGE_LENGTH" default:"8000"`
	MaxResponseLength int           `envconfig:"MAX_RESPONSE_LENGTH" default:"4000"`
	Timeout           time.Duration `envconfig:"WORKFLOW_TIMEOUT" default:"60s"`
}

type SessionConfig struct {
	Backend         string        `envconfig:"SESSION_BACKEND" default:"memory"`
	TTL             time.Duration `envconfig:"SESSION_TTL" default:"30m"`
	MaxTurns        int           `envconfig:"MAX_CONVERSATION_HISTORY" default:"10"`
	ContextTurns    int           `envconfig:"SESSION_CONTEXT_TURNS" default:"6"`
	MaxSessions     int           `envconfig:"SESSION_MAX_ENTRIES" default:"10000"`
	CleanupInterval time.Duration `envconfig:"SESSION_CLEANUP_INTERVAL" default:"5m"`
	Locking         bool          `envconfig:"SESSION_LOCKING" default:"false"`
	LockExpiry      time.Duration `envconfig:"SESSION_LOCK_EXPIRY" default:"5s"`
}

type RateLimitConfig struct {
	Backend  string        `envconfig:"RATE_LIMIT_BACKEND" default:"memory"`
	Requests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"20"`
	Window   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"1m"`
}

type KnowledgeConfig struct {
	APIKey           string        `envconfig:"GEMINI_API_KEY"`
	BaseURL          string        `envconfig:"GEMINI_BASE_URL"`
	ChatModel        string        `envconfig:"KB_CHAT_MODEL" default:"gemini-2.5-flash"`
	EmbeddingModel   string        `envconfig:"KB_EMBEDDING_MODEL" default:"text-embedding-004"`
	Temperature      float32       `envconfig:"KB_TEMPERATURE" default:"0.1"`
	MaxTokens        int           `envconfig:"KB_MAX_TOKENS" default:"1024"`
	DataDir          string        `envconfig:"KB_DATA_DIR" default:"./data/knowledge"`
	IndexDir         string        `envconfig:"KB_INDEX_DIR" default:"./data/index"`
	Collection       string        `envconfig:"KB_COLLECTION" default:"knowledge"`
	TopK             int           `envconfig:"SIMILARITY_TOP_K" default:"3"`
	SimilarityCutoff float64       `envconfig:"SIMILARITY_CUTOFF" default:"0.7"`
	ContextTurns     int           `envconfig:"KB_CONTEXT_TURNS" default:"3"`
	ChunkSize        int           `envconfig:"KB_CHUNK_SIZE" default:"1000"`
	MaxAnswerLength  int           `envconfig:"KB_MAX_ANSWER_LENGTH" default:"1000"`
	CacheSize        int           `envconfig:"KB_CACHE_SIZE" default:"128"`
	Timeout          time.Duration `envconfig:"KB_TIMEOUT" default:"30s"`
}

type PromptConfig struct {
	BusinessName string `envconfig:"PROMPT_BUSINESS_NAME" default:"Lunia Soluciones"`
	BusinessType string `envconfig:"PROMPT_BUSINESS_TYPE" default:"consultoría en IA"`
}

type WhatsAppConfig struct {
	APIURL           string        `envconfig:"EVOLUTION_API_URL" default:"http://localhost:8080"`
	APIKey           string        `envconfig:"EVOLUTION_API_KEY"`
	Instance         string        `envconfig:"EVOLUTION_INSTANCE_NAME" default:"default"`
	Timeout          time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	MaxRetries       int           `envconfig:"WHATSAPP_MAX_RETRIES" default:"3"`
	RetryWait        time.Duration `envconfig:"WHATSAPP_RETRY_WAIT" default:"1s"`
	MaxMessageLength int           `envconfig:"WHATSAPP_MAX_MESSAGE_LENGTH" default:"4000"`
	PartDelay        time.Duration `envconfig:"WHATSAPP_PART_DELAY" default:"1s"`
	TypingDelay      int           `envconfig:"WHATSAPP_TYPING_DELAY_MS" default:"1200"`
	MaxMediaBytes    int           `envconfig:"WHATSAPP_MAX_MEDIA_BYTES" default:"26214400"`
	DryRun           bool          `envconfig:"WHATSAPP_DRY_RUN" default:"false"`
}

type EmailConfig struct {
	Host     string        `envconfig:"SMTP_SERVER"`
	Port     int           `envconfig:"SMTP_PORT" default:"587"`
	Username string        `envconfig:"SMTP_USERNAME"`
	Password string        `envconfig:"SMTP_PASSWORD"`
	From     string        `envconfig:"SMTP_FROM"`
	FromName string        `envconfig:"SMTP_FROM_NAME" default:"Lunia Soluciones"`
	Timeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`
}

// Enabled reports whether enough SMTP settings are present to send mail.
func (c EmailConfig) Enabled() bool {
	return c.Host != "" && c.Username != "" && c.Password != ""
}

type CalendarConfig struct {
	CredentialsFile string        `envconfig:"GOOGLE_SERVICE_ACCOUNT_FILE"`
	CalendarID      string        `envconfig:"GOOGLE_CALENDAR_ID" default:"primary"`
	TimeZone        string        `envconfig:"CALENDAR_TIMEZONE" default:"America/Bogota"`
	EventDuration   time.Duration `envconfig:"CALENDAR_EVENT_DURATION" default:"1h"`
}

// Enabled reports whether a service account file is configured.
func (c CalendarConfig) Enabled() bool {
	return c.CredentialsFile != ""
}

type TranscriptionConfig struct {
	Enabled         bool   `envconfig:"TRANSCRIPTION_ENABLED" default:"false"`
	CredentialsFile string `envconfig:"GOOGLE_SPEECH_CREDENTIALS_FILE"`
	LanguageCode    string `envconfig:"TRANSCRIPTION_LANGUAGE" default:"es-ES"`
	SampleRateHertz int32  `envconfig:"TRANSCRIPTION_SAMPLE_RATE" default:"16000"`
	MinAudioBytes   int    `envconfig:"TRANSCRIPTION_MIN_BYTES" default:"100"`
	MaxAudioBytes   int    `envconfig:"TRANSCRIPTION_MAX_BYTES" default:"26214400"`
}
